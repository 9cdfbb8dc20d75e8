package broker

import (
	"time"

	"github.com/ariesworks/comms/internal/protocol"
)

// handleFrame routes one inbound frame through the message table. It runs
// on the connection's read loop, so fanout enqueue order follows arrival
// order per connection.
func (b *Broker) handleFrame(c *conn, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.sendMessage(protocol.ErrorMessage(protocol.CodeInvalidJSON, "frame is not a JSON object"))
		return
	}
	messageType, ok := protocol.TypeOf(msg)
	if !ok {
		c.sendMessage(protocol.ErrorMessage(protocol.CodeMissingType, "message missing 'type' field"))
		return
	}
	if b.metrics != nil {
		b.metrics.MessagesReceived.WithLabelValues(messageType).Inc()
	}
	if warning, deprecated := b.registry.DeprecationWarning(messageType); deprecated {
		c.sendMessage(protocol.WarningMessage(protocol.CodeDeprecatedType, warning))
	}

	switch messageType {
	case protocol.TypePing:
		b.handlePing(c, msg, raw)
	case protocol.TypePong:
		b.handlePong(c, msg, raw)
	case protocol.TypeQuery, protocol.TypeAllyQuery:
		b.handleQuery(c, msg)
	case protocol.TypeNegotiation:
		b.handleNegotiation(c, msg, raw)
	case protocol.TypeControl:
		b.handleForwarded(c, msg, raw, protocol.TypeControlResp)
	case protocol.TypeConfigUpdate:
		b.handleForwarded(c, msg, raw, protocol.TypeConfigResp)
	case protocol.TypePhysics:
		b.handlePhysics(c, msg, raw)
	case protocol.TypeToolCall, protocol.TypeToolResult:
		b.handleTool(c, msg, raw)
	case protocol.TypeTradingStream:
		b.hub.fanout(TopicTrading, raw, c.id)
	case "subscribe", "unsubscribe":
		b.handleSubscription(c, msg, messageType)
	default:
		b.hub.fanout(TopicBroadcast, raw, c.id)
	}
}

func (b *Broker) handlePing(c *conn, msg protocol.Message, raw []byte) {
	target, _ := msg["target"].(string)
	if target != "sh" {
		b.hub.fanout(TopicBroadcast, raw, c.id)
		return
	}
	reply := protocol.Message{
		protocol.FieldType:      protocol.TypePong,
		"target":                "sh",
		"status":                "active",
		"server_time":           time.Now().UnixMilli(),
		protocol.FieldTimestamp: protocol.Now(),
	}
	if ts, ok := msg["timestamp"]; ok {
		reply["timestamp"] = ts
	}
	c.sendMessage(reply)
}

func (b *Broker) handlePong(c *conn, msg protocol.Message, raw []byte) {
	target, _ := msg["target"].(string)
	if target != "sh" {
		b.hub.fanout(TopicBroadcast, raw, c.id)
		return
	}
	var echoed time.Time
	if ts, ok := msg["timestamp"].(float64); ok {
		echoed = normalizeEpoch(ts)
	}
	c.recordPong(echoed, time.Now())
}

func (b *Broker) handleQuery(c *conn, msg protocol.Message) {
	queryType, _ := msg["query_type"].(string)
	if queryType == "" {
		if params, ok := msg["parameters"].(map[string]any); ok {
			queryType, _ = params["query_type"].(string)
		}
	}
	correlationID, _ := msg[protocol.FieldCorrelationID].(string)

	var reply protocol.Message
	switch queryType {
	case "active_streams":
		reply = protocol.Message{
			protocol.FieldType: protocol.TypeActiveStreams,
			"data":             b.ActiveStreams(),
		}
	case "connection_info":
		reply = protocol.Message{
			protocol.FieldType: protocol.TypeConnectionInfo,
			"data":             c.info(),
			"subscriptions":    b.hub.subscriptions(c),
		}
	case "physics_simulations":
		reply = protocol.Message{
			protocol.FieldType: protocol.TypePhysics,
			"action":           "snapshot",
			"data":             b.physics.snapshot(),
		}
	case "physics_simulation":
		simID, _ := msg["simulation_id"].(string)
		data, ok := b.physics.simulation(simID)
		if !ok {
			c.sendMessage(protocol.ErrorMessage(protocol.CodeValidationError, "unknown simulation: "+simID))
			return
		}
		reply = protocol.Message{
			protocol.FieldType: protocol.TypePhysics,
			"action":           "snapshot",
			"data":             data,
		}
	default:
		c.sendMessage(protocol.ErrorMessage(protocol.CodeValidationError, "unknown query_type: "+queryType))
		return
	}
	reply[protocol.FieldTimestamp] = protocol.Now()
	if correlationID != "" {
		reply[protocol.FieldCorrelationID] = correlationID
	}
	c.sendMessage(reply)
}

func (b *Broker) handleNegotiation(c *conn, msg protocol.Message, raw []byte) {
	if data, ok := msg["data"].(map[string]any); ok {
		b.setNegotiation(data)
	}
	b.hub.fanout(TopicBroadcast, raw, c.id)
}

// handleForwarded fans control and config_update messages out and
// acknowledges the sender with a forwarded response.
func (b *Broker) handleForwarded(c *conn, msg protocol.Message, raw []byte, responseType string) {
	b.hub.fanout(TopicBroadcast, raw, c.id)
	reply := protocol.Message{
		protocol.FieldType:      responseType,
		"status":                "forwarded",
		protocol.FieldTimestamp: protocol.Now(),
	}
	if moduleID, ok := msg["module_id"].(string); ok {
		reply["module_id"] = moduleID
	}
	if correlationID, ok := msg[protocol.FieldCorrelationID].(string); ok && correlationID != "" {
		reply[protocol.FieldCorrelationID] = correlationID
	}
	c.sendMessage(reply)
}

func (b *Broker) handlePhysics(c *conn, msg protocol.Message, raw []byte) {
	action, _ := msg["action"].(string)
	simID, _ := msg["simulation_id"].(string)
	if simID == "" {
		c.sendMessage(protocol.ErrorMessage(protocol.CodeValidationError, "physics_simulation requires simulation_id"))
		return
	}

	switch action {
	case "register":
		config, _ := msg["config"].(map[string]any)
		b.physics.register(simID, config)
	case "register_stream":
		streamID, _ := msg["stream_id"].(string)
		if streamID == "" {
			c.sendMessage(protocol.ErrorMessage(protocol.CodeValidationError, "register_stream requires stream_id"))
			return
		}
		data, _ := msg["data"].(map[string]any)
		if data == nil {
			data = map[string]any{}
		}
		key := b.physics.registerStream(simID, streamID, data)
		b.setSynthetic(key, data)
	case "update":
		streams, _ := msg["streams"].(map[string]any)
		if streams == nil {
			if data, ok := msg["data"].(map[string]any); ok {
				streams = data
			}
		}
		for _, key := range b.physics.update(simID, streams) {
			if data, ok := b.physics.streamData(simID, key[len(simID)+1:]); ok {
				b.setSynthetic(key, data)
			}
		}
	case "status":
		status, _ := msg["status"].(string)
		if err := b.physics.setStatus(simID, status); err != nil {
			c.sendMessage(protocol.ErrorMessage(protocol.CodeValidationError, err.Error()))
			return
		}
	case "control":
		// Control frames carry commands for the simulator itself; the
		// broker only relays them.
	case "remove":
		b.dropSynthetic(b.physics.remove(simID))
	default:
		c.sendMessage(protocol.ErrorMessage(protocol.CodeValidationError, "unknown physics action: "+action))
		return
	}
	b.hub.fanout(TopicPhysics, raw, c.id)
}

func (b *Broker) handleTool(c *conn, msg protocol.Message, raw []byte) {
	if b.tools != nil && b.tools.Route(msg) {
		return
	}
	// Without a local executor the broker relays tool traffic to the
	// tools topic for out-of-process executors.
	b.hub.fanout(TopicTools, raw, c.id)
}

func (b *Broker) handleSubscription(c *conn, msg protocol.Message, messageType string) {
	topic, _ := msg["topic"].(string)
	if !knownTopic(topic) {
		c.sendMessage(protocol.ErrorMessage(protocol.CodeValidationError, "unknown topic: "+topic))
		return
	}
	status := "subscribed"
	if messageType == "subscribe" {
		b.hub.subscribe(c, topic)
	} else {
		b.hub.unsubscribe(c, topic)
		status = "unsubscribed"
	}
	c.sendMessage(protocol.Message{
		protocol.FieldType:      protocol.TypeConnectionInfo,
		"topic":                 topic,
		"status":                status,
		"subscriptions":         b.hub.subscriptions(c),
		protocol.FieldTimestamp: protocol.Now(),
	})
}
