// Command orchestrator-demo runs a small, self-contained orchestration:
// one plain task fetches a batch id from a mock inventory service, then a
// five-voter quorum task asks five independent replicas for the record's
// length and finishes once at least two agree. It mirrors the shape of the
// teacher's own main.go + samples/parallel.go: a runnable example over
// the library, not a CLI surface for the engine itself.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/kortschak/orkestra/delivery"
	"github.com/kortschak/orkestra/destination"
	"github.com/kortschak/orkestra/orchestrator"
	"github.com/kortschak/orkestra/persistence/memory"
	"github.com/kortschak/orkestra/quorum"
)

// pingRequest is the request every quorum voter receives. W2 requires the
// same domain content for every voter, which here is empty: nothing about
// the request varies by destination except the routing metadata every
// voter necessarily gets its own copy of. Orchestrator rides along so a
// reply can find its way back to whichever orchestrator instance actually
// sent the request: the outer orchestrator for fetch-batch, or one of the
// quorum task's dynamically spawned inner orchestrators for a vote.
// Correlation is that instance's own delivery correlation, distinct per
// voter by construction, which is why it is excluded from the W2
// well-formedness comparison rather than folded into the compared content.
type pingRequest struct {
	Orchestrator string `json:"orchestrator"`
	Correlation  int64  `json:"correlation"`
}

func (p pingRequest) OrchestratorID() string { return p.Orchestrator }
func (p pingRequest) CorrelationID() int64   { return p.Correlation }

func main() {
	ctx := context.Background()

	tp := orchestrator.NewTracerProvider()
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("shut down tracer provider: %v", err)
		}
	}()
	otel.SetTracerProvider(tp)

	store := memory.New()
	dir := orchestrator.NewDirectory()

	registry := destination.NewRegistry(dir.HandleReply)

	// Five independent replicas; four report length 6 and one reports 8.
	records := map[orchestrator.Path]string{
		"replica-0": "Farfalhi",
		"replica-1": "Kunami",
		"replica-2": "Funini",
		"replica-3": "Katuki",
		"replica-4": "Maraca",
	}
	for dest, value := range records {
		v := value
		registry.Register(dest, func(deliveryID int64, message any) (any, bool) {
			return len(v), false
		})
	}
	registry.Register("inventory", func(deliveryID int64, message any) (any, bool) {
		return "batch-42", false
	})

	dp := delivery.New(registry)

	const outerID = "demo-run"
	fetchBatch := orchestrator.NewTask(0, "fetch-batch", "inventory", nil, 5*time.Second,
		func(c int64) any { return pingRequest{Orchestrator: outerID, Correlation: c} },
		func(reply any) orchestrator.TaskAction { return orchestrator.Finish(reply) },
	)

	voters := []orchestrator.Path{"replica-0", "replica-1", "replica-2", "replica-3", "replica-4"}
	quorumCfg := quorum.Config{
		Destinations: voters,
		NewMessage: func(orchestratorID string, c int64) any {
			return pingRequest{Orchestrator: orchestratorID, Correlation: c}
		},
		Timeout:      5 * time.Second,
		MinimumVotes: quorum.AtLeast(2),
		OnInnerOrchestrator: func(inner *orchestrator.Orchestrator) {
			dir.Register(inner)
		},
	}
	quorumTask, handle, wrappedDelivery, err := quorum.NewCompositeTask(1, "record-length", []uint32{0}, quorumCfg, store, dp, orchestrator.SharedIDs)
	if err != nil {
		log.Fatalf("build quorum task: %v", err)
	}

	tasks := []*orchestrator.Task{fetchBatch, quorumTask}
	outer, err := orchestrator.NewOrchestrator(outerID, tasks, store, wrappedDelivery,
		orchestrator.WithHooks(orchestrator.Hooks{
			OnFinish: func(reports []orchestrator.Report) {
				for _, r := range reports {
					fmt.Printf("task %d (%s): %s result=%v\n", r.Index, r.Name, r.State, r.Result)
				}
			},
			OnAbort: func(instigator orchestrator.Report, cause error) {
				fmt.Printf("orchestrator aborted: task %d (%s): %v\n", instigator.Index, instigator.Name, cause)
			},
		}),
	)
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}
	handle.Bind(outer)
	dir.Register(outer)

	if err := outer.StartOrchestrator(ctx, 1); err != nil {
		log.Fatalf("start orchestrator: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	status, err := outer.Status(ctx)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	for _, r := range status.Reports {
		fmt.Printf("final: task %d (%s) state=%s result=%v cause=%v\n", r.Index, r.Name, r.State, r.Result, r.Cause)
	}

	if err := outer.ShutdownOrchestrator(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
