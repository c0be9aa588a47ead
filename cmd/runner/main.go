package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/clients"
	"github.com/lyzr/agentflow/common/engine"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/workflow"
)

// workflowFile is the on-disk form of a runnable workflow. YAML is
// converted to JSON before decoding so the graph keeps one wire format.
type workflowFile struct {
	Name        string            `json:"name"`
	Nodes       []workflow.Node   `json:"nodes"`
	Edges       []workflow.Edge   `json:"edges"`
	Context     *workflow.Context `json:"context"`
	StartNodeID string            `json:"startNodeId"`
}

func main() {
	var (
		file    = flag.String("f", "", "workflow definition file (.json, .yaml or .yml)")
		input   = flag.String("input", "", "input for the start node, parsed as JSON when possible")
		start   = flag.String("start", "", "start node id, overrides the file")
		remote  = flag.String("remote", "", "orchestrator base URL; runs the workflow remotely instead of in-process")
		apiKey  = flag.String("api-key", "", "X-API-Key for remote calls")
		sync    = flag.Bool("sync", false, "remote only: execute synchronously instead of dispatch-and-poll")
		timeout = flag.Duration("timeout", 5*time.Minute, "overall deadline for the run")
		poll    = flag.Duration("poll", 500*time.Millisecond, "remote only: status poll interval")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: runner -f workflow.yaml [-input value] [-start node] [-remote http://host:8081]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	def, err := loadWorkflowFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		os.Exit(1)
	}
	if *start != "" {
		def.StartNodeID = *start
	}
	if *input != "" {
		seedInput(def, *input)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *remote != "" {
		os.Exit(runRemote(ctx, def, *remote, *apiKey, *sync, *poll))
	}
	os.Exit(runLocal(ctx, def))
}

// loadWorkflowFile reads and decodes a workflow definition
func loadWorkflowFile(path string) (*workflowFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		raw, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %w", err)
		}
	}

	var def workflowFile
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}
	return &def, nil
}

// seedInput places the -input flag into the context. JSON values keep
// their type; anything else goes in as a raw string.
func seedInput(def *workflowFile, input string) {
	if def.Context == nil {
		def.Context = workflow.NewContext()
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(input), &parsed); err == nil {
		def.Context.Input = parsed
	} else {
		def.Context.Input = input
	}
}

// runLocal executes the workflow in-process. Only the driver registry
// and the memory store ladder are brought up; no database, Redis or
// queue.
func runLocal(ctx context.Context, def *workflowFile) int {
	components, err := bootstrap.Setup(ctx, "runner",
		bootstrap.WithoutDB(),
		bootstrap.WithoutRedis(),
		bootstrap.WithoutQueue(),
		bootstrap.WithoutTelemetry(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer components.Shutdown(ctx)

	kernel := engine.New(components.Drivers, components.Store, nil, components.Logger)
	g := &workflow.Graph{Nodes: def.Nodes, Edges: def.Edges}
	result := kernel.Execute(ctx, g, def.Context, engine.Options{StartNodeID: def.StartNodeID})

	printJSON(result)
	if result.Status != workflow.StatusOK {
		return 1
	}
	return 0
}

// runRemote sends the workflow to an orchestrator. Default is async
// dispatch followed by status polling; -sync uses the inline endpoint.
func runRemote(ctx context.Context, def *workflowFile, baseURL, apiKey string, syncMode bool, pollEvery time.Duration) int {
	log := logger.New("warn", "text")
	client := clients.NewAPIClient(strings.TrimRight(baseURL, "/"), log)
	if apiKey != "" {
		ctx = clients.WithAPIKey(ctx, apiKey)
	}

	req := clients.ExecuteRequest{
		Nodes:       def.Nodes,
		Edges:       def.Edges,
		Context:     def.Context,
		StartNodeID: def.StartNodeID,
	}

	if syncMode {
		result, err := client.ExecuteWorkflow(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Remote execution failed: %v\n", err)
			return 1
		}
		printJSON(result)
		if result.Status != workflow.StatusOK {
			return 1
		}
		return 0
	}

	accepted, err := client.ExecuteWorkflowAsync(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "execution %s accepted, polling...\n", accepted.ExecutionID)

	state, err := client.WaitForCompletion(ctx, accepted.ExecutionID, pollEvery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Polling failed: %v\n", err)
		return 1
	}
	printJSON(state)
	if state.Status != workflow.ExecutionCompleted {
		return 1
	}
	return 0
}

func printJSON(v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return
	}
	fmt.Println(string(encoded))
}
