package modulesdk

import (
	"context"
	"testing"
)

type registerTestProducer struct{}

func (registerTestProducer) Streams() map[string]*Stream             { return nil }
func (registerTestProducer) Config() map[string]any                  { return nil }
func (registerTestProducer) UpdateStreams(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (registerTestProducer) UpdateConfigs(map[string]any) error      { return nil }
func (registerTestProducer) ControlModule(string) error              { return nil }

func TestRegisterValidation(t *testing.T) {
	factory := func() Producer { return registerTestProducer{} }
	if err := Register("", factory); err == nil {
		t.Error("empty module id accepted")
	}
	if err := Register("sdk_test_nilfactory", nil); err == nil {
		t.Error("nil factory accepted")
	}
	if err := Register("sdk_test_mod", factory); err != nil {
		t.Fatal(err)
	}
	if err := Register("sdk_test_mod", factory); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	factory := func() Producer { return registerTestProducer{} }
	MustRegister("sdk_test_must", factory)
	defer func() {
		if recover() == nil {
			t.Error("duplicate MustRegister did not panic")
		}
	}()
	MustRegister("sdk_test_must", factory)
}

func TestRegisteredReturnsCopy(t *testing.T) {
	factory := func() Producer { return registerTestProducer{} }
	if err := Register("sdk_test_copy", factory); err != nil {
		t.Fatal(err)
	}
	table := Registered()
	delete(table, "sdk_test_copy")
	if _, ok := Registered()["sdk_test_copy"]; !ok {
		t.Error("mutating the returned table reached the registry")
	}

	found := false
	for _, id := range RegisteredIDs() {
		if id == "sdk_test_copy" {
			found = true
		}
	}
	if !found {
		t.Error("RegisteredIDs missing sdk_test_copy")
	}
}
