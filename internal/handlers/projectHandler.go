package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/akolanti/GoRAG/internal/adapter"
	"github.com/akolanti/GoRAG/internal/adapter/utils"
	"github.com/akolanti/GoRAG/internal/api"
	"github.com/akolanti/GoRAG/internal/rag/ingest"
)

const maxUploadSize = 32 << 20 //32mb

// CreateProjectHandler godoc
// @Summary      Create a project
// @Description  Creates an isolated project. An empty project_id gets a generated one.
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        request  body      api.CreateProjectRequest  false  "Optional id and name"
// @Success      201      {object}  api.ProjectResponse
// @Failure      400      {object}  api.ErrorResponse  "Invalid or duplicate project id"
// @Router       /projects [post]
func CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		var req api.CreateProjectRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		project, err := handlerInstance.projects.CreateProject(r.Context(), req.ProjectId, req.Name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJsonResponse(w, http.StatusCreated, adapter.ToProjectResponse(project))
	}
}

// DeleteProjectHandler godoc
// @Summary      Delete a project
// @Description  Removes the project's index namespace, documents and chat sessions.
// @Tags         Projects
// @Param        projectId  path  string  true  "Project ID"
// @Success      204
// @Failure      404  {object}  api.ErrorResponse  "PROJECT_NOT_FOUND"
// @Failure      409  {object}  api.ErrorResponse  "INGESTION_IN_PROGRESS"
// @Router       /projects/{projectId} [delete]
func DeleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		if err := handlerInstance.projects.DeleteProject(r.Context(), utils.GetChiURLParam(r, "projectId")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// IngestDocumentHandler godoc
// @Summary      Ingest a stored document
// @Description  Registers the document and schedules ingestion. Poll the document for its status.
// @Tags         Ingestion
// @Accept       json
// @Produce      json
// @Param        projectId   path      string                     true  "Project ID"
// @Param        documentId  path      string                     true  "Document ID"
// @Param        request     body      api.IngestDocumentRequest  true  "Storage reference"
// @Success      202         {object}  api.DocumentResponse
// @Failure      400         {object}  api.ErrorResponse  "Missing storage_reference"
// @Failure      404         {object}  api.ErrorResponse  "PROJECT_NOT_FOUND"
// @Failure      409         {object}  api.ErrorResponse  "INGESTION_IN_PROGRESS"
// @Router       /projects/{projectId}/documents/{documentId}/ingest [post]
func IngestDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		var req api.IngestDocumentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		doc, err := handlerInstance.projects.IngestDocument(r.Context(), ingest.TriggerRequest{
			ProjectId:  utils.GetChiURLParam(r, "projectId"),
			DocumentId: utils.GetChiURLParam(r, "documentId"),
			StorageRef: req.StorageReference,
			Name:       req.DocumentName,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJsonResponse(w, http.StatusAccepted, adapter.ToDocumentResponse(doc))
	}
}

// UploadDocumentHandler handles the uploading of PDF, DOCX or text documents for ingestion.
// @Summary      Upload a document for ingestion
// @Description  Receives a file via multipart/form-data, stores it under the content root and schedules ingestion.
// @Tags         Ingestion
// @Accept       multipart/form-data
// @Produce      json
// @Param        projectId      path      string  true   "Project ID"
// @Param        document_id    formData  string  false  "Document ID, generated when empty"
// @Param        document_name  formData  string  true   "The display name of the document"
// @Param        document       formData  file    true   "The file to upload"
// @Success      202  {object}  api.DocumentResponse
// @Failure      400  {object}  api.JobResponse    "Missing fields or file too large"
// @Failure      404  {object}  api.ErrorResponse  "PROJECT_NOT_FOUND"
// @Failure      500  {object}  api.JobResponse    "Storage or write error"
// @Router       /projects/{projectId}/documents [post]
func UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		projectId := utils.GetChiURLParam(r, "projectId")
		if _, err := handlerInstance.projects.GetProject(r.Context(), projectId); err != nil {
			writeError(w, r, err)
			return
		}

		targetDir, err := getTargetDirectory(handlerInstance.contentRoot, projectId)
		if err != nil {
			logRH.WithTrace(r.Context()).Error("Couldn't get target directory", "err", err)
			writeError(w, r, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			WriteErrorResponse(w, http.StatusBadRequest, "", "File too large or bad request")
			return
		}

		//process request
		docName := r.FormValue("document_name")
		if docName == "" {
			WriteErrorResponse(w, http.StatusBadRequest, "", "document_name is required")
			return
		}
		docId := r.FormValue("document_id")
		if docId == "" {
			docId = utils.GetNewUUID()
		}

		//get the document the user uploads
		fileReader, fileMetadata, err := r.FormFile("document")
		if err != nil {
			WriteErrorResponse(w, http.StatusBadRequest, docName, "Could not retrieve file")
			return
		}
		defer fileReader.Close()

		filename := fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(fileMetadata.Filename))
		destinationFileWriter, err := os.Create(filepath.Join(targetDir, filename))
		if err != nil {
			WriteErrorResponse(w, http.StatusInternalServerError, docName, "Storage error")
			return
		}
		defer destinationFileWriter.Close()

		if _, err := io.Copy(destinationFileWriter, fileReader); err != nil {
			WriteErrorResponse(w, http.StatusInternalServerError, docName, "Write error")
			return
		}

		doc, err := handlerInstance.projects.IngestDocument(r.Context(), ingest.TriggerRequest{
			ProjectId:  projectId,
			DocumentId: docId,
			StorageRef: path.Join(projectId, filename),
			Name:       docName,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJsonResponse(w, http.StatusAccepted, adapter.ToDocumentResponse(doc))
	}
}

// GetDocumentHandler godoc
// @Summary      Get document status
// @Tags         Documents
// @Produce      json
// @Param        projectId   path      string  true  "Project ID"
// @Param        documentId  path      string  true  "Document ID"
// @Success      200         {object}  api.DocumentResponse
// @Failure      404         {object}  api.ErrorResponse  "PROJECT_NOT_FOUND or DOCUMENT_NOT_FOUND"
// @Router       /projects/{projectId}/documents/{documentId} [get]
func GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		doc, err := handlerInstance.projects.GetDocument(r.Context(),
			utils.GetChiURLParam(r, "projectId"), utils.GetChiURLParam(r, "documentId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJsonResponse(w, http.StatusOK, adapter.ToDocumentResponse(doc))
	}
}

// ListDocumentsHandler godoc
// @Summary      List a project's documents
// @Tags         Documents
// @Produce      json
// @Param        projectId  path      string  true  "Project ID"
// @Success      200        {object}  api.DocumentListResponse
// @Failure      404        {object}  api.ErrorResponse  "PROJECT_NOT_FOUND"
// @Router       /projects/{projectId}/documents [get]
func ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		projectId := utils.GetChiURLParam(r, "projectId")
		docs, err := handlerInstance.projects.ListDocuments(r.Context(), projectId)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJsonResponse(w, http.StatusOK, adapter.ToDocumentListResponse(projectId, docs))
	}
}

// RetryDocumentHandler godoc
// @Summary      Retry a failed document
// @Tags         Documents
// @Produce      json
// @Param        projectId   path      string  true  "Project ID"
// @Param        documentId  path      string  true  "Document ID"
// @Success      202         {object}  api.DocumentResponse
// @Failure      409         {object}  api.ErrorResponse  "INVALID_TRANSITION or INGESTION_IN_PROGRESS"
// @Router       /projects/{projectId}/documents/{documentId}/retry [post]
func RetryDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		doc, err := handlerInstance.projects.RetryDocument(r.Context(),
			utils.GetChiURLParam(r, "projectId"), utils.GetChiURLParam(r, "documentId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJsonResponse(w, http.StatusAccepted, adapter.ToDocumentResponse(doc))
	}
}

// ReindexDocumentHandler godoc
// @Summary      Rebuild an indexed document's chunks
// @Tags         Documents
// @Produce      json
// @Param        projectId   path      string  true  "Project ID"
// @Param        documentId  path      string  true  "Document ID"
// @Success      202         {object}  api.DocumentResponse
// @Failure      409         {object}  api.ErrorResponse  "INVALID_TRANSITION or INGESTION_IN_PROGRESS"
// @Router       /projects/{projectId}/documents/{documentId}/reindex [post]
func ReindexDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		doc, err := handlerInstance.projects.ReindexDocument(r.Context(),
			utils.GetChiURLParam(r, "projectId"), utils.GetChiURLParam(r, "documentId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJsonResponse(w, http.StatusAccepted, adapter.ToDocumentResponse(doc))
	}
}

// DeleteDocumentHandler godoc
// @Summary      Delete a document and its chunks
// @Tags         Documents
// @Param        projectId   path  string  true  "Project ID"
// @Param        documentId  path  string  true  "Document ID"
// @Success      204
// @Failure      404  {object}  api.ErrorResponse  "DOCUMENT_NOT_FOUND"
// @Failure      409  {object}  api.ErrorResponse  "INGESTION_IN_PROGRESS"
// @Router       /projects/{projectId}/documents/{documentId} [delete]
func DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		err := handlerInstance.projects.DeleteDocument(r.Context(),
			utils.GetChiURLParam(r, "projectId"), utils.GetChiURLParam(r, "documentId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
