package broker

import (
	"fmt"
	"sync"

	"github.com/ariesworks/comms/internal/protocol"
)

// simulation is one registered physics simulation and its streams.
type simulation struct {
	ID         string
	Config     map[string]any
	Status     string
	Streams    map[string]map[string]any
	CreatedAt  string
	LastUpdate string
}

func (s *simulation) snapshot() map[string]any {
	streams := make(map[string]any, len(s.Streams))
	for id, data := range s.Streams {
		streams[id] = data
	}
	return map[string]any{
		"simulation_id": s.ID,
		"config":        s.Config,
		"status":        s.Status,
		"streams":       streams,
		"created_at":    s.CreatedAt,
		"last_update":   s.LastUpdate,
	}
}

// physicsRegistry tracks simulations registered through physics_simulation
// messages. register_stream and update additionally surface simulator
// streams into the broadcast stream table under `<simulation>_<stream>`.
type physicsRegistry struct {
	mu   sync.Mutex
	sims map[string]*simulation
}

func newPhysicsRegistry() *physicsRegistry {
	return &physicsRegistry{sims: make(map[string]*simulation)}
}

func (r *physicsRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sims)
}

func (r *physicsRegistry) register(simID string, config map[string]any) {
	now := protocol.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if sim, ok := r.sims[simID]; ok {
		sim.Config = config
		sim.Status = "registered"
		sim.LastUpdate = now
		return
	}
	r.sims[simID] = &simulation{
		ID:         simID,
		Config:     config,
		Status:     "registered",
		Streams:    make(map[string]map[string]any),
		CreatedAt:  now,
		LastUpdate: now,
	}
}

// registerStream records a simulator stream, creating the simulation when
// needed, and returns the synthetic broadcast key for it.
func (r *physicsRegistry) registerStream(simID, streamID string, data map[string]any) string {
	now := protocol.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.sims[simID]
	if !ok {
		sim = &simulation{
			ID:         simID,
			Status:     "registered",
			Streams:    make(map[string]map[string]any),
			CreatedAt:  now,
			LastUpdate: now,
		}
		r.sims[simID] = sim
	}
	sim.Streams[streamID] = data
	sim.LastUpdate = now
	return syntheticStreamKey(simID, streamID)
}

// update merges stream data into an existing simulation. Unknown
// simulations are created implicitly so late joiners still surface.
func (r *physicsRegistry) update(simID string, streams map[string]any) []string {
	now := protocol.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.sims[simID]
	if !ok {
		sim = &simulation{
			ID:         simID,
			Status:     "running",
			Streams:    make(map[string]map[string]any),
			CreatedAt:  now,
			LastUpdate: now,
		}
		r.sims[simID] = sim
	}
	keys := make([]string, 0, len(streams))
	for streamID, value := range streams {
		data, ok := value.(map[string]any)
		if !ok {
			data = map[string]any{"value": value}
		}
		sim.Streams[streamID] = data
		keys = append(keys, syntheticStreamKey(simID, streamID))
	}
	sim.Status = "running"
	sim.LastUpdate = now
	return keys
}

func (r *physicsRegistry) setStatus(simID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.sims[simID]
	if !ok {
		return fmt.Errorf("simulation %q not registered", simID)
	}
	sim.Status = status
	sim.LastUpdate = protocol.Now()
	return nil
}

// remove drops a simulation and returns the synthetic keys to purge from
// the broadcast stream table.
func (r *physicsRegistry) remove(simID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.sims[simID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(sim.Streams))
	for streamID := range sim.Streams {
		keys = append(keys, syntheticStreamKey(simID, streamID))
	}
	delete(r.sims, simID)
	return keys
}

// streamData returns the recorded data for one simulator stream.
func (r *physicsRegistry) streamData(simID, streamID string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.sims[simID]
	if !ok {
		return nil, false
	}
	data, ok := sim.Streams[streamID]
	return data, ok
}

func (r *physicsRegistry) snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.sims))
	for id, sim := range r.sims {
		out[id] = sim.snapshot()
	}
	return out
}

func (r *physicsRegistry) simulation(simID string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.sims[simID]
	if !ok {
		return nil, false
	}
	return sim.snapshot(), true
}

func syntheticStreamKey(simID, streamID string) string {
	return simID + "_" + streamID
}
