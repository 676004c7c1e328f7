package fantasm_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/fantasm"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/config"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
)

// ExampleNew runs a two-step machine on the in-memory adapters.
func ExampleNew() {
	// 1. Declare the machine.
	cfg, err := config.Parse([]byte(`
machines:
  - name: greeter
    context_types: {name: string}
    states:
      - name: hello
        initial: true
        action: greet
        transitions:
          - {event: wave, to: bye}
      - name: bye
        final: true
        entry: farewell
`), "yaml")
	if err != nil {
		log.Fatal(err)
	}

	// 2. Bind the action names to code.
	reg := action.NewRegistry()
	reg.RegisterFunc("greet", func(ctx context.Context, ec *domain.Context) action.Result {
		fmt.Println("hello,", ec.Data.GetString("name"))
		return action.Next("wave")
	})
	reg.RegisterFunc("farewell", func(ctx context.Context, ec *domain.Context) action.Result {
		fmt.Println("bye,", ec.Data.GetString("name"), "at step", ec.Step)
		return action.Done()
	})

	g, err := graph.Resolve(cfg, reg)
	if err != nil {
		log.Fatal(err)
	}
	engine, err := fantasm.New(g)
	if err != nil {
		log.Fatal(err)
	}

	// 3. Start an instance and let a worker drain the queue.
	ctx := context.Background()
	if _, err := engine.Start(ctx, "greeter", map[string]any{"name": "ada"}); err != nil {
		log.Fatal(err)
	}
	w, err := engine.Worker()
	if err != nil {
		log.Fatal(err)
	}
	n, err := w.Drain(ctx, 0)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("hops:", n)

	// Output:
	// hello, ada
	// bye, ada at step 1
	// hops: 2
}

// ExampleEngine_Handle runs a single hop synchronously, the way a push
// queue delivering over HTTP would.
func ExampleEngine_Handle() {
	cfg, err := config.Parse([]byte(`
machines:
  - name: once
    states:
      - {name: only, initial: true, final: true, entry: shout}
`), "yaml")
	if err != nil {
		log.Fatal(err)
	}
	reg := action.NewRegistry()
	reg.RegisterFunc("shout", func(ctx context.Context, ec *domain.Context) action.Result {
		fmt.Println("instance", ec.Instance, "entered", ec.CurrentState)
		return action.Done()
	})
	g, err := graph.Resolve(cfg, reg)
	if err != nil {
		log.Fatal(err)
	}
	engine, err := fantasm.New(g)
	if err != nil {
		log.Fatal(err)
	}

	err = engine.Handle(context.Background(), fantasm.Request{Machine: "once", Instance: "job-42"})
	fmt.Println("err:", err)

	// Output:
	// instance job-42 entered only
	// err: <nil>
}
