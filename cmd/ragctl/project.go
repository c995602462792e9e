package main

import (
	"net/http"

	"github.com/akolanti/GoRAG/internal/api"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [project-id]",
	Short: "Create a project",
	Long:  `Creates an empty project. The server generates an id when none is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProjectCreate,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete [project-id]",
	Short: "Delete a project with its documents and sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

var projectName string

func init() {
	projectCreateCmd.Flags().StringVarP(&projectName, "name", "n", "", "Display name")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	req := api.CreateProjectRequest{Name: projectName}
	if len(args) == 1 {
		req.ProjectId = args[0]
	}
	var out api.ProjectResponse
	if err := apiClient().doJSON(cmd.Context(), http.MethodPost, "/projects", req, &out); err != nil {
		return err
	}
	cmd.Printf("Created project %s\n", out.ProjectId)
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient().doJSON(cmd.Context(), http.MethodDelete, "/projects/"+args[0], nil, nil); err != nil {
		return err
	}
	cmd.Printf("Deleted project %s\n", args[0])
	return nil
}
