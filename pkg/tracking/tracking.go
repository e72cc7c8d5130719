// Copyright (C) 2024 Packsmith ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

// Package tracking defines the hook through which commands report
// operation events. The binary decides what to do with them; the library
// only emits.
package tracking

import (
	"context"

	"github.com/google/uuid"
)

// Event is one reported operation.
type Event struct {
	// ID uniquely identifies the event instance.
	ID string
	// Name of the operation, e.g. "pkg create".
	Name string
	// Properties carries operation inputs and outcome.
	Properties map[string]string
}

// NewEvent creates an event with a fresh id.
func NewEvent(name string, properties map[string]string) *Event {
	if properties == nil {
		properties = map[string]string{}
	}
	return &Event{
		ID:         uuid.NewString(),
		Name:       name,
		Properties: properties,
	}
}

// Track consumes events. Implementations must not write to stdout.
type Track func(ctx context.Context, event *Event) error

// NopTrack discards all events.
func NopTrack(ctx context.Context, event *Event) error {
	return nil
}
