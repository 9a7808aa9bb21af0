// Command orchctl is a thin terminal wrapper over pkg/client for local
// operators to enqueue, list, reply to and trace tasks without writing Go.
// Grounded on the teacher's examples/go/main.go exploratory client usage,
// promoted here to a real subcommand-dispatching cmd/ binary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/taskorch/engine/pkg/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := getEnv("ORCHCTL_URL", "http://localhost:8080")
	apiKey := os.Getenv("ORCHCTL_API_KEY")
	opts := []client.Option{client.WithHTTPTimeout(30 * time.Second)}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	c := client.New(baseURL, opts...)

	ctx := context.Background()
	var err error

	switch os.Args[1] {
	case "submit":
		err = cmdSubmit(ctx, c, os.Args[2:])
	case "submit-group":
		err = cmdSubmitGroup(ctx, c, os.Args[2:])
	case "get":
		err = cmdGet(ctx, c, os.Args[2:])
	case "list-group":
		err = cmdListGroup(ctx, c, os.Args[2:])
	case "list-groups":
		err = cmdListGroups(ctx, c, os.Args[2:])
	case "reply":
		err = cmdReply(ctx, c, os.Args[2:])
	case "cancel":
		err = cmdCancel(ctx, c, os.Args[2:])
	case "trace":
		err = cmdTrace(ctx, c, os.Args[2:])
	case "runners":
		err = cmdRunners(ctx, c, os.Args[2:])
	case "health":
		err = cmdHealth(ctx, c, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "orchctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: orchctl <command> [flags]

commands:
  submit        --group <id> --prompt <text> [--type TYPE] [--namespace NS]
  submit-group  --prompt <text> [--type TYPE] [--namespace NS]
  get           --id <task-id> [--namespace NS]
  list-group    --group <id> [--namespace NS]
  list-groups   [--namespace NS]
  reply         --id <task-id> --text <reply> [--namespace NS]
  cancel        --id <task-id> [--namespace NS]
  trace         --id <task-id> [--latest] [--namespace NS]
  runners       [--namespace NS]
  health        [--namespace NS]`)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdSubmit(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	group := fs.String("group", "", "task group id")
	prompt := fs.String("prompt", "", "task prompt")
	taskType := fs.String("type", "", "task type")
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.SubmitTask(ctx, *namespace, client.CreateTaskRequest{
		TaskGroupID: *group, Prompt: *prompt, TaskType: *taskType,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdSubmitGroup(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("submit-group", flag.ExitOnError)
	prompt := fs.String("prompt", "", "task prompt")
	taskType := fs.String("type", "", "task type")
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.SubmitTaskGroup(ctx, *namespace, client.CreateTaskRequest{
		Prompt: *prompt, TaskType: *taskType,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdGet(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.String("id", "", "task id")
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.GetTask(ctx, *id, *namespace)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdListGroup(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("list-group", flag.ExitOnError)
	group := fs.String("group", "", "task group id")
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.ListTasksInGroup(ctx, *group, *namespace)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdListGroups(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("list-groups", flag.ExitOnError)
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.ListGroups(ctx, *namespace)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdReply(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("reply", flag.ExitOnError)
	id := fs.String("id", "", "task id")
	text := fs.String("text", "", "reply text")
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.Reply(ctx, *id, *namespace, *text)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdCancel(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("id", "", "task id")
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.CancelTask(ctx, *id, *namespace)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdTrace(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	id := fs.String("id", "", "task id")
	latest := fs.Bool("latest", false, "only the newest event")
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.GetTrace(ctx, *id, *namespace, *latest)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdRunners(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("runners", flag.ExitOnError)
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.ListRunners(ctx, *namespace)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdHealth(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	namespace := fs.String("namespace", "", "namespace")
	fs.Parse(args)

	resp, err := c.Health(ctx, *namespace)
	if err != nil {
		return err
	}
	return printJSON(resp)
}
