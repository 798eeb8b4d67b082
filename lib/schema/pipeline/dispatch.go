// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"strings"
)

// Handlers routes a Step to a variant-specific function. Nil handlers
// fall through to Default.
type Handlers[T any] struct {
	Command func(Step, *CommandStep) (T, error)
	Block   func(Step, *BlockStep) (T, error)
	Input   func(Step, *InputStep) (T, error)
	Wait    func(Step, *WaitStep) (T, error)
	Trigger func(Step, *TriggerStep) (T, error)
	Group   func(Step, *GroupStep) (T, error)

	// Default receives any step whose variant has no handler.
	Default func(Step) (T, error)
}

// UnhandledStepTypeError is returned by Dispatch when no handler
// accepts the step, or when the step does not carry exactly one
// variant.
type UnhandledStepTypeError struct {
	Step Step
}

func (e *UnhandledStepTypeError) Error() string {
	tags := e.Step.Tags()
	name := e.Step.Key
	if name == "" {
		name = e.Step.Label
	}
	switch len(tags) {
	case 0:
		return fmt.Sprintf("step %q carries no step type", name)
	case 1:
		return fmt.Sprintf("no handler for %s step %q", tags[0], name)
	default:
		kinds := make([]string, len(tags))
		for index, tag := range tags {
			kinds[index] = string(tag)
		}
		return fmt.Sprintf("step %q carries several step types (%s)", name, strings.Join(kinds, ", "))
	}
}

// Dispatch invokes the handler matching step's variant.
func Dispatch[T any](step Step, handlers Handlers[T]) (T, error) {
	var zero T
	switch step.Kind() {
	case KindCommand:
		if handlers.Command != nil {
			return handlers.Command(step, step.Command)
		}
	case KindBlock:
		if handlers.Block != nil {
			return handlers.Block(step, step.Block)
		}
	case KindInput:
		if handlers.Input != nil {
			return handlers.Input(step, step.Input)
		}
	case KindWait:
		if handlers.Wait != nil {
			return handlers.Wait(step, step.Wait)
		}
	case KindTrigger:
		if handlers.Trigger != nil {
			return handlers.Trigger(step, step.Trigger)
		}
	case KindGroup:
		if handlers.Group != nil {
			return handlers.Group(step, step.Group)
		}
	default:
		return zero, &UnhandledStepTypeError{Step: step}
	}
	if handlers.Default != nil {
		return handlers.Default(step)
	}
	return zero, &UnhandledStepTypeError{Step: step}
}
