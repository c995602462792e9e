package main

import (
	"net/http"

	"github.com/akolanti/GoRAG/internal/api"
	"github.com/spf13/cobra"
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage a project's documents",
	Long:  `Upload, ingest, inspect, retry, reindex or delete documents.`,
}

var documentUploadCmd = &cobra.Command{
	Use:   "upload [project-id] [file]",
	Short: "Upload a file and start ingestion",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocumentUpload,
}

var documentIngestCmd = &cobra.Command{
	Use:   "ingest [project-id] [document-id]",
	Short: "Ingest a document already in storage",
	Long:  `Starts ingestion of a gs://, file:// or content-root relative reference.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runDocumentIngest,
}

var documentStatusCmd = &cobra.Command{
	Use:   "status [project-id] [document-id]",
	Short: "Show a document's ingestion status",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocumentStatus,
}

var documentListCmd = &cobra.Command{
	Use:   "list [project-id]",
	Short: "List a project's documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentList,
}

var documentRetryCmd = &cobra.Command{
	Use:   "retry [project-id] [document-id]",
	Short: "Retry a failed document",
	Args:  cobra.ExactArgs(2),
	RunE:  documentAction("retry"),
}

var documentReindexCmd = &cobra.Command{
	Use:   "reindex [project-id] [document-id]",
	Short: "Rebuild an indexed document's chunks",
	Args:  cobra.ExactArgs(2),
	RunE:  documentAction("reindex"),
}

var documentDeleteCmd = &cobra.Command{
	Use:   "delete [project-id] [document-id]",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocumentDelete,
}

var (
	documentName string
	documentId   string
	storageRef   string
)

func init() {
	documentUploadCmd.Flags().StringVar(&documentId, "id", "", "Document id, generated by the server when empty")
	documentUploadCmd.Flags().StringVarP(&documentName, "name", "n", "", "Display name, defaults to the file name")
	documentIngestCmd.Flags().StringVar(&storageRef, "ref", "", "Storage reference")
	documentIngestCmd.Flags().StringVarP(&documentName, "name", "n", "", "Display name")
	_ = documentIngestCmd.MarkFlagRequired("ref")

	documentCmd.AddCommand(documentUploadCmd)
	documentCmd.AddCommand(documentIngestCmd)
	documentCmd.AddCommand(documentStatusCmd)
	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentRetryCmd)
	documentCmd.AddCommand(documentReindexCmd)
	documentCmd.AddCommand(documentDeleteCmd)
	rootCmd.AddCommand(documentCmd)
}

func documentPath(projectId, documentId string) string {
	return "/projects/" + projectId + "/documents/" + documentId
}

func runDocumentUpload(cmd *cobra.Command, args []string) error {
	var out api.DocumentResponse
	if err := apiClient().upload(cmd.Context(), args[0], documentId, documentName, args[1], &out); err != nil {
		return err
	}
	printDocument(cmd, out)
	return nil
}

func runDocumentIngest(cmd *cobra.Command, args []string) error {
	req := api.IngestDocumentRequest{StorageReference: storageRef, DocumentName: documentName}
	var out api.DocumentResponse
	if err := apiClient().doJSON(cmd.Context(), http.MethodPost, documentPath(args[0], args[1])+"/ingest", req, &out); err != nil {
		return err
	}
	printDocument(cmd, out)
	return nil
}

func runDocumentStatus(cmd *cobra.Command, args []string) error {
	var out api.DocumentResponse
	if err := apiClient().doJSON(cmd.Context(), http.MethodGet, documentPath(args[0], args[1]), nil, &out); err != nil {
		return err
	}
	printDocument(cmd, out)
	return nil
}

func runDocumentList(cmd *cobra.Command, args []string) error {
	var out api.DocumentListResponse
	if err := apiClient().doJSON(cmd.Context(), http.MethodGet, "/projects/"+args[0]+"/documents", nil, &out); err != nil {
		return err
	}
	if len(out.Documents) == 0 {
		cmd.Printf("No documents in project %s\n", args[0])
		return nil
	}
	for _, d := range out.Documents {
		cmd.Printf("  %-36s %-10s chunks=%d\n", d.DocumentId, d.Status, d.ChunkCount)
	}
	cmd.Printf("\nTotal: %d documents\n", len(out.Documents))
	return nil
}

func documentAction(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var out api.DocumentResponse
		if err := apiClient().doJSON(cmd.Context(), http.MethodPost, documentPath(args[0], args[1])+"/"+action, nil, &out); err != nil {
			return err
		}
		printDocument(cmd, out)
		return nil
	}
}

func runDocumentDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient().doJSON(cmd.Context(), http.MethodDelete, documentPath(args[0], args[1]), nil, nil); err != nil {
		return err
	}
	cmd.Printf("Deleted document %s\n", args[1])
	return nil
}

func printDocument(cmd *cobra.Command, d api.DocumentResponse) {
	cmd.Printf("Document: %s\n", d.DocumentId)
	cmd.Printf("  Project:  %s\n", d.ProjectId)
	if d.Name != "" {
		cmd.Printf("  Name:     %s\n", d.Name)
	}
	cmd.Printf("  Status:   %s\n", d.Status)
	cmd.Printf("  Chunks:   %d\n", d.ChunkCount)
	cmd.Printf("  Attempts: %d\n", d.Attempts)
	if d.IndexedAt != nil {
		cmd.Printf("  Indexed:  %s\n", d.IndexedAt.Format("2006-01-02 15:04:05"))
	}
	if d.FailureCode != "" {
		cmd.Printf("  Failure:  %s %s\n", d.FailureCode, d.FailureReason)
	}
}
