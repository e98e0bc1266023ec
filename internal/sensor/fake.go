package sensor

import (
	"context"
	"errors"
	"sync"
)

// FakeMoisture is a test double that returns scripted raw reads.
// Each call consumes the next value; the last value repeats once exhausted.
type FakeMoisture struct {
	mu sync.Mutex

	Values []int
	index  int

	// ReadError, if set, will be returned by ReadRawMoisture.
	ReadError error
}

// NewFakeMoisture creates a FakeMoisture with the given values.
func NewFakeMoisture(values ...int) *FakeMoisture {
	return &FakeMoisture{Values: values}
}

// ReadRawMoisture returns the next scripted value.
func (f *FakeMoisture) ReadRawMoisture(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Values) == 0 {
		return 0, errors.New("no values configured")
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Set replaces the scripted values.
func (f *FakeMoisture) Set(values ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Values = values
	f.index = 0
}

// FakeClimate is a test double returning a fixed climate reading.
type FakeClimate struct {
	mu sync.Mutex

	Reading   Climate
	ReadError error
}

// NewFakeClimate creates a FakeClimate. Pass nil for an absent value.
func NewFakeClimate(temp, hum *float64) *FakeClimate {
	return &FakeClimate{Reading: Climate{Temperature: temp, Humidity: hum}}
}

// ReadClimate returns the configured reading.
func (f *FakeClimate) ReadClimate(ctx context.Context) (Climate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reading, f.ReadError
}
