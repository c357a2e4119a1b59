package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Step is one recorded access in a Chain. A step without Args and with
// Property set is a property read; otherwise it is a method call.
type Step struct {
	Method   string
	Property bool
	Args     []interface{}
}

// Chain records a sequence of calls on a remote object so it can be sent
// as source text, e.g.
//
//	bridge.NewChain("document").Call("find", "#Card").Call("get", "fill")
//
// renders to `return await document.find("#Card").get("fill")`. Chains are
// immutable; every method returns a new one.
type Chain struct {
	target string
	steps  []Step
}

// NewChain starts a chain on the remote name target.
func NewChain(target string) *Chain {
	return &Chain{target: target}
}

// Call appends a method call.
func (c *Chain) Call(method string, args ...interface{}) *Chain {
	return c.with(Step{Method: method, Args: append([]interface{}(nil), args...)})
}

// Get appends a property read.
func (c *Chain) Get(property string) *Chain {
	return c.with(Step{Method: property, Property: true})
}

func (c *Chain) with(step Step) *Chain {
	steps := make([]Step, len(c.steps), len(c.steps)+1)
	copy(steps, c.steps)
	return &Chain{target: c.target, steps: append(steps, step)}
}

// Steps returns a copy of the recorded steps.
func (c *Chain) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

// Source renders the chain as the body of a remote script.
func (c *Chain) Source() (string, error) {
	if !identifier.MatchString(c.target) {
		return "", fmt.Errorf("invalid chain target %q", c.target)
	}

	var sb strings.Builder
	sb.WriteString("return await ")
	sb.WriteString(c.target)
	for _, step := range c.steps {
		if !identifier.MatchString(step.Method) {
			return "", fmt.Errorf("invalid member name %q", step.Method)
		}
		sb.WriteByte('.')
		sb.WriteString(step.Method)
		if step.Property {
			continue
		}
		sb.WriteByte('(')
		for i, arg := range step.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			encoded, err := sonic.Marshal(arg)
			if err != nil {
				return "", fmt.Errorf("encode argument %d of %s: %w", i, step.Method, err)
			}
			sb.Write(encoded)
		}
		sb.WriteByte(')')
	}
	return sb.String(), nil
}

// CallChain renders chain and runs it with CallRemote.
func (b *Bridge) CallChain(ctx context.Context, chain *Chain, opts ...CallOption) (interface{}, error) {
	source, err := chain.Source()
	if err != nil {
		return nil, err
	}
	return b.CallRemote(ctx, source, opts...)
}
