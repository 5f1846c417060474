package saga

import (
	"time"

	"github.com/pkg/errors"
)

// Compensation describes how a successful step is undone. The mapping is
// supplied by the integrating service as configuration; a step without one is
// skipped during the backward walk.
type Compensation struct {
	CommandType     string
	CommandTopic    string
	DoneEventType   string
	FailedEventType string
}

type Step struct {
	Name             string
	CommandType      string
	CommandTopic     string
	SuccessEventType string
	FailureEventType string
	Compensation     *Compensation
	Timeout          time.Duration
}

// Definition is an ordered step sequence. Definitions are static: loaded at
// process start, immutable thereafter.
type Definition struct {
	Name  string
	Steps []Step
}

func (d Definition) validate() error {
	if d.Name == "" {
		return errors.New("definition name is required")
	}
	if len(d.Steps) == 0 {
		return errors.New("definition requires at least one step")
	}
	for i, step := range d.Steps {
		if step.CommandType == "" || step.CommandTopic == "" {
			return errors.Errorf("step %d: command type and topic are required", i)
		}
		if step.SuccessEventType == "" || step.FailureEventType == "" {
			return errors.Errorf("step %d: success and failure event types are required", i)
		}
		if step.Timeout <= 0 {
			return errors.Errorf("step %d: timeout must be positive", i)
		}
		if c := step.Compensation; c != nil {
			if c.CommandType == "" || c.CommandTopic == "" {
				return errors.Errorf("step %d: compensation command type and topic are required", i)
			}
			if c.DoneEventType == "" {
				return errors.Errorf("step %d: compensation done event type is required", i)
			}
		}
	}
	return nil
}

type Registry struct {
	definitions map[string]Definition
}

func NewRegistry(definitions ...Definition) (*Registry, error) {
	r := &Registry{
		definitions: make(map[string]Definition, len(definitions)),
	}
	for _, definition := range definitions {
		if err := definition.validate(); err != nil {
			return nil, errors.Wrapf(err, "definition %q", definition.Name)
		}
		if _, ok := r.definitions[definition.Name]; ok {
			return nil, errors.Errorf("definition %q already registered", definition.Name)
		}
		r.definitions[definition.Name] = definition
	}
	return r, nil
}

func (r *Registry) Definition(name string) (Definition, error) {
	definition, ok := r.definitions[name]
	if !ok {
		return Definition{}, errors.Wrap(ErrDefinitionNotFound, name)
	}
	return definition, nil
}
