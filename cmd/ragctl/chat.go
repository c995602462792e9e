package main

import (
	"net/http"
	"strings"

	"github.com/akolanti/GoRAG/internal/api"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [project-id] [question...]",
	Short: "Ask a question about a project's documents",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAsk,
}

var jobCmd = &cobra.Command{
	Use:   "job [job-id]",
	Short: "Show the state of a queued question",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

var (
	sessionId string
	async     bool
)

func init() {
	askCmd.Flags().StringVarP(&sessionId, "session", "s", "", "Continue an earlier session")
	askCmd.Flags().BoolVar(&async, "async", false, "Queue the question and print the job id")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(jobCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	req := api.ChatRequest{Message: strings.Join(args[1:], " "), SessionId: sessionId}
	c := apiClient()

	if async {
		var out api.InitJobResponse
		if err := c.doJSON(cmd.Context(), http.MethodPost, "/projects/"+args[0]+"/chat/jobs", req, &out); err != nil {
			return err
		}
		cmd.Printf("Queued job %s\n", out.Id)
		return nil
	}

	var out api.ChatResponse
	if err := c.doJSON(cmd.Context(), http.MethodPost, "/projects/"+args[0]+"/chat", req, &out); err != nil {
		return err
	}
	cmd.Println(out.Reply)
	printSources(cmd, out.Sources)
	cmd.Printf("\nSession: %s\n", out.SessionId)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	var out api.JobResponse
	err := apiClient().doJSON(cmd.Context(), http.MethodGet, "/status/"+args[0], nil, &out)
	if err != nil {
		return err
	}
	cmd.Printf("Job %s: %s\n", out.Id, out.Result.Status)
	if rag := out.Result.RAGExternalResponse; rag != nil {
		cmd.Println(rag.Answer)
		printSources(cmd, rag.Sources)
	}
	return nil
}

func printSources(cmd *cobra.Command, sources []api.Source) {
	if len(sources) == 0 {
		return
	}
	cmd.Println("\nSources:")
	for i, s := range sources {
		cmd.Printf("  [%d] %s p.%d\n", i+1, s.DocumentId, s.Page)
	}
}
