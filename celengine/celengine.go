// Package celengine runs contract logic written in CEL.
//
// A template carries its logic in two expression files: logic/init.cel is evaluated on deploy with the
// contract data and logic/trigger.cel on every execution with the data, the request and the current state.
// Both must evaluate to a map that may hold the keys "state", "response" and "emit" (a list of events). A
// non-null "error" entry rejects the call with its message.
//
// The variables data, request and state hold the decoded JSON documents and now holds the evaluation time.
package celengine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow"
)

const (
	InitFile    = "logic/init.cel"
	TriggerFile = "logic/trigger.cel"

	defaultCostLimit = 1_000_000
)

var (
	ErrLogicMissing  = errors.New("contract logic missing", j.C("ERR_4c8e2a6f0b3d1957"))
	ErrCompileFailed = errors.New("contract logic does not compile", j.C("ERR_9f1b5d3e7a2c0468"))
	ErrEvalFailed    = errors.New("contract logic evaluation failed", j.C("ERR_2e6a0c4f8d1b5379"))
	ErrInvalidOutput = errors.New("contract logic returned an invalid outcome", j.C("ERR_7d3f9b1e5c0a2846"))
	ErrRejected      = errors.New("contract rejected the call", j.C("ERR_b5a1d7f3c9e04268"))
)

var jsonValueType = reflect.TypeOf(&structpb.Value{})

type Engine struct {
	env       *cel.Env
	clock     clock.Clock
	costLimit uint64

	mu       sync.RWMutex
	programs map[string]cel.Program
}

type Option func(e *Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithCostLimit bounds the runtime cost of a single evaluation.
func WithCostLimit(limit uint64) Option {
	return func(e *Engine) {
		e.costLimit = limit
	}
}

func New(opts ...Option) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		cel.Variable("request", cel.DynType),
		cel.Variable("state", cel.DynType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}

	e := &Engine{
		env:       env,
		clock:     clock.RealClock{},
		costLimit: defaultCostLimit,
		programs:  make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

var _ ledgerflow.Engine = (*Engine)(nil)

func (e *Engine) Init(ctx context.Context, tmpl ledgerflow.Template, data []byte) (*ledgerflow.Outcome, error) {
	return e.eval(ctx, tmpl, InitFile, map[string][]byte{"data": data})
}

func (e *Engine) Trigger(ctx context.Context, tmpl ledgerflow.Template, data, request, state []byte) (*ledgerflow.Outcome, error) {
	return e.eval(ctx, tmpl, TriggerFile, map[string][]byte{
		"data":    data,
		"request": request,
		"state":   state,
	})
}

func (e *Engine) eval(ctx context.Context, tmpl ledgerflow.Template, file string, docs map[string][]byte) (*ledgerflow.Outcome, error) {
	prg, err := e.program(tmpl, file)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		"data":    nil,
		"request": nil,
		"state":   nil,
		"now":     e.clock.Now(),
	}
	for name, doc := range docs {
		v, err := decode(doc)
		if err != nil {
			return nil, errors.Wrap(ErrEvalFailed, "variable is not valid JSON", j.KV("variable", name))
		}

		vars[name] = v
	}

	val, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return nil, errors.Wrap(ErrEvalFailed, "", j.MKV{
			"template": tmpl.Identifier(),
			"file":     file,
			"cause":    err.Error(),
		})
	}

	native, err := val.ConvertToNative(jsonValueType)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidOutput, "outcome is not a JSON value", j.KV("cause", err.Error()))
	}

	return toOutcome(native.(*structpb.Value))
}

// program compiles the logic file of the template once per template hash.
func (e *Engine) program(tmpl ledgerflow.Template, file string) (cel.Program, error) {
	key := tmpl.Hash() + "/" + file

	e.mu.RLock()
	prg, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	src, err := os.ReadFile(filepath.Join(tmpl.Dir(), filepath.FromSlash(file)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrLogicMissing, "", j.MKV{"template": tmpl.Identifier(), "file": file})
	} else if err != nil {
		return nil, errors.Wrap(err, "read contract logic", j.KV("file", file))
	}

	ast, iss := e.env.Compile(string(src))
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrap(ErrCompileFailed, "", j.MKV{
			"template": tmpl.Identifier(),
			"file":     file,
			"cause":    iss.Err().Error(),
		})
	}

	prg, err = e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, errors.Wrap(ErrCompileFailed, "", j.KV("cause", err.Error()))
	}

	e.mu.Lock()
	e.programs[key] = prg
	e.mu.Unlock()

	return prg, nil
}

func decode(doc []byte) (any, error) {
	if len(doc) == 0 {
		return nil, nil
	}

	var v any
	err := json.Unmarshal(doc, &v)
	if err != nil {
		return nil, err
	}

	return v, nil
}

// rejection is the reason given by the contract. Reasons that are not strings are rendered as JSON.
func rejection(reason *structpb.Value) string {
	if s, ok := reason.GetKind().(*structpb.Value_StringValue); ok {
		return s.StringValue
	}

	b, err := encode(reason)
	if err != nil {
		return "unreadable reason"
	}

	return string(b)
}

func toOutcome(v *structpb.Value) (*ledgerflow.Outcome, error) {
	s := v.GetStructValue()
	if s == nil {
		return nil, errors.Wrap(ErrInvalidOutput, "outcome is not a map")
	}

	for name := range s.Fields {
		switch name {
		case "state", "response", "emit", "error":
		default:
			return nil, errors.Wrap(ErrInvalidOutput, "unknown outcome entry", j.KV("entry", name))
		}
	}

	if reason, ok := s.Fields["error"]; ok {
		if _, isNull := reason.GetKind().(*structpb.Value_NullValue); !isNull {
			return nil, errors.Wrap(ErrRejected, rejection(reason))
		}
	}

	var (
		out ledgerflow.Outcome
		err error
	)
	if state, ok := s.Fields["state"]; ok {
		out.State, err = encode(state)
		if err != nil {
			return nil, err
		}
	}

	if response, ok := s.Fields["response"]; ok {
		out.Response, err = encode(response)
		if err != nil {
			return nil, err
		}
	}

	if emit, ok := s.Fields["emit"]; ok {
		list := emit.GetListValue()
		if list == nil {
			return nil, errors.Wrap(ErrInvalidOutput, "emit is not a list")
		}

		for _, event := range list.Values {
			b, err := encode(event)
			if err != nil {
				return nil, err
			}

			out.Emit = append(out.Emit, b)
		}
	}

	return &out, nil
}

func encode(v *structpb.Value) (json.RawMessage, error) {
	b, err := json.Marshal(v.AsInterface())
	if err != nil {
		return nil, errors.Wrap(ErrInvalidOutput, "outcome entry is not JSON", j.KV("cause", err.Error()))
	}

	return b, nil
}
