package handlers

import (
	"net/http"
	"strings"

	"github.com/akolanti/GoRAG/internal/adapter"
	"github.com/akolanti/GoRAG/internal/adapter/utils"
	"github.com/akolanti/GoRAG/internal/api"
	"github.com/akolanti/GoRAG/internal/rag"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

var logRH *logger_i.Logger

// newJobData is what the handler knows about a job before the job service owns it
type newJobData struct {
	id        string
	projectId string
	sessionId string
	userId    string
	message   string
	traceId   string
}

func GetHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ChatHandler godoc
// @Summary      Ask a question about a project's documents
// @Description  Answers from the project's indexed documents only. Omit session_id to start a new session.
// @Tags         Messaging
// @Accept       json
// @Produce      json
// @Param        projectId  path      string           true  "Project ID"
// @Param        request    body      api.ChatRequest  true  "Message and optional session ID"
// @Success      200        {object}  api.ChatResponse
// @Failure      400        {object}  api.ErrorResponse  "Empty message"
// @Failure      404        {object}  api.ErrorResponse  "PROJECT_NOT_FOUND or SESSION_NOT_FOUND"
// @Failure      409        {object}  api.ErrorResponse  "NO_INDEXED_DOCUMENTS"
// @Failure      503        {object}  api.ErrorResponse  "A dependency is unavailable, retry later"
// @Router       /projects/{projectId}/chat [post]
func ChatHandler(w http.ResponseWriter, request *http.Request) {
	if validateContext(request.Context()) {
		var requestData api.ChatRequest
		if !decodeJSON(w, request, &requestData) {
			return
		}
		if strings.TrimSpace(requestData.Message) == "" {
			WriteErrorResponse(w, http.StatusBadRequest, requestData.SessionId, "message is required")
			return
		}

		resp, err := handlerInstance.chat.Chat(request.Context(), rag.ChatRequest{
			ProjectId: utils.GetChiURLParam(request, "projectId"),
			SessionId: requestData.SessionId,
			UserId:    requestData.UserId,
			Message:   requestData.Message,
		})
		if err != nil {
			writeError(w, request, err)
			return
		}
		writeJsonResponse(w, http.StatusOK, adapter.ToChatResponse(resp.SessionId, resp.Reply, resp.Sources, resp.IsNewSession))
		return
	}
	logRH.Warn("Invalid Context by request ", "remote", request.RemoteAddr)
}

// ChatJobHandler godoc
// @Summary      Queue a question as a background job
// @Description  Accepts a message, queues a chat job and returns its ID. Poll /status/{id} for the answer.
// @Tags         Messaging
// @Accept       json
// @Produce      json
// @Param        projectId  path      string               true  "Project ID"
// @Param        request    body      api.ChatRequest      true  "Message and optional session ID"
// @Success      202        {object}  api.InitJobResponse  "Job successfully created"
// @Failure      400        {object}  api.JobResponse      "Invalid request data"
// @Failure      404        {object}  api.ErrorResponse    "PROJECT_NOT_FOUND"
// @Router       /projects/{projectId}/chat/jobs [post]
func ChatJobHandler(w http.ResponseWriter, request *http.Request) {
	if validateContext(request.Context()) {
		var requestData api.ChatRequest
		if !decodeJSON(w, request, &requestData) {
			return
		}
		if strings.TrimSpace(requestData.Message) == "" {
			logRH.WithTrace(request.Context()).Warn("Bad Chat Request", "request data", requestData)
			WriteErrorResponse(w, http.StatusBadRequest, requestData.SessionId, "Bad Request")
			return
		}
		projectId := utils.GetChiURLParam(request, "projectId")
		if _, err := handlerInstance.projects.GetProject(request.Context(), projectId); err != nil {
			writeError(w, request, err)
			return
		}

		newJob := newJobData{
			id:        utils.GetNewUUID(),
			projectId: projectId,
			sessionId: requestData.SessionId,
			userId:    requestData.UserId,
			message:   requestData.Message,
			traceId:   traceId(request.Context()),
		}
		if err := CreateNewJob(request.Context(), newJob); err != nil {
			writeError(w, request, err)
			return
		}
		writeJsonResponse(w, http.StatusAccepted, adapter.ToInitJobResponse(newJob.id))
		return
	}
	logRH.Warn("Invalid Context by request ", "remote", request.RemoteAddr)
}

// GetStatusHandler godoc
// @Summary      Get job status
// @Description  Retrieves the current status of a specific job using its ID.
// @Tags         Job Status
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Job ID "
// @Success      200  {object}  api.JobResponse   "Successful retrieval of job status"
// @Failure      404  {object}  api.JobResponse   "Job not found (returns Error object within JobResponse)"
// @Router       /status/{id} [get]
func GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if validateContext(r.Context()) {
		//use chi get the url id
		idString := utils.GetChiURLParam(r, "id")
		result, isFound := validateId(r, idString)

		logRH.WithTrace(r.Context()).Debug("Get Status Request:", "URL path", r.URL.Path)
		if !isFound {
			WriteErrorResponse(w, http.StatusNotFound, idString, "Job not found")
			return
		}

		writeJsonResponse(w, http.StatusOK, adapter.ToAPIResponse(result))
	}
}
