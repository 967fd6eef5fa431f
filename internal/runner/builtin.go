package runner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"agentcore/internal/memory"
	"agentcore/internal/model"
)

// Builtin task kinds.
const (
	KindEcho      = "echo"
	KindSleep     = "sleep"
	KindMemoryPut = "memory.put"
	KindMemoryGet = "memory.get"
)

// RegisterBuiltins installs the built-in runners on reg.
func RegisterBuiltins(reg *Registry) {
	reg.Register(KindEcho, Func(runEcho))
	reg.Register(KindSleep, Func(runSleep))
	reg.Register(KindMemoryPut, Func(runMemoryPut))
	reg.Register(KindMemoryGet, Func(runMemoryGet))
}

// runEcho returns the task payload unchanged. Useful for wiring and testing
// workflows without real work.
func runEcho(_ context.Context, req Request) (Result, error) {
	return Result{Output: req.Payload}, nil
}

type sleepPayload struct {
	DurationMS int `json:"duration_ms"`
}

// runSleep waits for the requested duration, honoring cancellation and the
// attempt deadline.
func runSleep(ctx context.Context, req Request) (Result, error) {
	var p sleepPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Result{}, model.Permanent(err)
	}
	if p.DurationMS < 0 {
		return Result{}, model.Permanent(errors.New("duration_ms must not be negative"))
	}

	select {
	case <-time.After(time.Duration(p.DurationMS) * time.Millisecond):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	out, _ := json.Marshal(map[string]int{"slept_ms": p.DurationMS})
	return Result{Output: out}, nil
}

type memoryPutPayload struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	TTLMS    int             `json:"ttl_ms,omitempty"`
	Priority int             `json:"priority,omitempty"`
}

// runMemoryPut writes a value into the shared memory store.
func runMemoryPut(_ context.Context, req Request) (Result, error) {
	if req.Memory == nil {
		return Result{}, errors.New("memory store not available")
	}

	var p memoryPutPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Result{}, model.Permanent(err)
	}
	if p.Key == "" {
		return Result{}, model.Permanent(errors.New("key is required"))
	}

	if p.TTLMS < -1 {
		return Result{}, model.Permanent(errors.New("ttl_ms must be -1, 0 or positive"))
	}
	if p.Priority == 0 {
		p.Priority = model.PriorityNormal
	}

	ttl := time.Duration(p.TTLMS) * time.Millisecond
	if p.TTLMS == -1 {
		ttl = memory.NoExpiry
	}
	if err := req.Memory.Put(p.Key, p.Value, ttl, p.Priority); err != nil {
		if errors.Is(err, memory.ErrCapacityExceeded) {
			return Result{}, model.Permanent(err)
		}
		return Result{}, err
	}

	out, _ := json.Marshal(map[string]string{"stored": p.Key})
	return Result{Output: out}, nil
}

type memoryGetPayload struct {
	Key string `json:"key"`
}

type memoryGetOutput struct {
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value,omitempty"`
}

// runMemoryGet reads a value from the shared memory store. A missing or
// expired key yields found=false rather than an error.
func runMemoryGet(_ context.Context, req Request) (Result, error) {
	if req.Memory == nil {
		return Result{}, errors.New("memory store not available")
	}

	var p memoryGetPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Result{}, model.Permanent(err)
	}
	if p.Key == "" {
		return Result{}, model.Permanent(errors.New("key is required"))
	}

	value, found := req.Memory.Get(p.Key)
	out, _ := json.Marshal(memoryGetOutput{Found: found, Value: value})
	return Result{Output: out}, nil
}
