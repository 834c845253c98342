// Package job holds the job-kind registry and the notifier that wakes workers
// when new jobs are stored.
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/target/taskmanager-api/internal/domain/model"
	apperrors "github.com/target/taskmanager-api/internal/errors"
)

// ErrUnknownKind is returned for kinds with no registered definition.
var ErrUnknownKind = errors.New("unknown job kind")

// Invocation identifies the job a handler is running for.
type Invocation struct {
	JobID string
	Kind  model.JobKind
}

// Outcome is what a handler produces on success.
type Outcome struct {
	// Result is stored on the job record.
	Result string
	// Enqueue lists follow-up jobs submitted once the handler returns. When
	// Result is empty the id of the first follow-up becomes the result.
	Enqueue []model.CreateJobRequest
}

// Validator is implemented by params types that check their own values after
// decoding. It should return an apperrors validation error.
type Validator interface {
	Validate() error
}

// Definition binds a kind to a typed handler. T is the params type.
type Definition[T any] struct {
	Kind    model.JobKind
	Handler func(ctx context.Context, inv Invocation, params T) (Outcome, error)
	// Timeout bounds one run. Zero leaves the run bounded only by the worker.
	Timeout time.Duration
	// Artifact marks kinds whose result names a file in the artifact store.
	Artifact bool
	// Check runs after T's own Validate and carries limits that depend on
	// runtime configuration.
	Check func(params T) error
}

type entry struct {
	timeout  time.Duration
	artifact bool
	decode   func(raw json.RawMessage) (any, error)
	run      func(ctx context.Context, inv Invocation, params any) (Outcome, error)
}

// Registry maps job kinds to type-erased handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[model.JobKind]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.JobKind]entry)}
}

// Register adds a typed definition. Params are decoded strictly into T and
// checked with T's Validate method when it has one.
func Register[T any](r *Registry, def Definition[T]) error {
	if !def.Kind.Valid() {
		return fmt.Errorf("register job: invalid kind %q", def.Kind)
	}
	if def.Handler == nil {
		return fmt.Errorf("register job %s: handler is required", def.Kind)
	}

	e := entry{
		timeout:  def.Timeout,
		artifact: def.Artifact,
		decode: func(raw json.RawMessage) (any, error) {
			var params T
			if err := decodeParams(raw, &params); err != nil {
				return nil, err
			}
			if v, ok := any(&params).(Validator); ok {
				if err := v.Validate(); err != nil {
					return nil, err
				}
			}
			if def.Check != nil {
				if err := def.Check(params); err != nil {
					return nil, err
				}
			}
			return params, nil
		},
		run: func(ctx context.Context, inv Invocation, params any) (Outcome, error) {
			typed, ok := params.(T)
			if !ok {
				return Outcome{}, fmt.Errorf("job %s: params have type %T", inv.Kind, params)
			}
			return def.Handler(ctx, inv, typed)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Kind]; exists {
		return fmt.Errorf("register job %s: already registered", def.Kind)
	}
	r.entries[def.Kind] = e
	return nil
}

// MustRegister is Register that panics on error, for wiring at start-up.
func MustRegister[T any](r *Registry, def Definition[T]) {
	if err := Register(r, def); err != nil {
		panic(err)
	}
}

// Validate checks params for kind without running anything.
func (r *Registry) Validate(kind model.JobKind, params json.RawMessage) error {
	e, err := r.lookup(kind)
	if err != nil {
		return err
	}
	_, err = e.decode(params)
	return err
}

// Run decodes params and invokes the handler for inv.Kind, applying the
// definition's timeout.
func (r *Registry) Run(ctx context.Context, inv Invocation, params json.RawMessage) (Outcome, error) {
	e, err := r.lookup(inv.Kind)
	if err != nil {
		return Outcome{}, err
	}
	decoded, err := e.decode(params)
	if err != nil {
		return Outcome{}, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.run(ctx, inv, decoded)
}

// ProducesArtifact reports whether results of kind are artifact names.
func (r *Registry) ProducesArtifact(kind model.JobKind) bool {
	e, err := r.lookup(kind)
	return err == nil && e.artifact
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind model.JobKind) bool {
	_, err := r.lookup(kind)
	return err == nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []model.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.JobKind, 0, len(r.entries))
	for k := range r.entries {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

func (r *Registry) lookup(kind model.JobKind) (entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	if !ok {
		return entry{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return e, nil
}

// decodeParams strictly decodes raw into dst, reporting problems per field.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		return nil
	}

	fields := apperrors.FieldSet{}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		fields.Add(typeErr.Field, "must be "+jsonTypeName(typeErr.Type.Kind().String()))
	case errors.As(err, &syntaxErr):
		fields.Add("params", "must be valid JSON")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		fields.Add(name, "unknown field")
	case errors.As(err, &typeErr):
		fields.Add("params", "must be a JSON object")
	default:
		fields.Add("params", err.Error())
	}
	return fields.Err()
}

func jsonTypeName(goKind string) string {
	switch {
	case strings.HasPrefix(goKind, "int"), strings.HasPrefix(goKind, "uint"):
		return "an integer"
	case strings.HasPrefix(goKind, "float"):
		return "a number"
	case goKind == "slice", goKind == "array":
		return "a list"
	case goKind == "struct", goKind == "map":
		return "an object"
	case goKind == "bool":
		return "a boolean"
	default:
		return "a " + goKind
	}
}
