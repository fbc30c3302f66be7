package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/orchestrate"
	"github.com/packlens-labs/packlens-go/internal/platform/auth"
	platformstore "github.com/packlens-labs/packlens-go/internal/platform/objectstore"
	"github.com/packlens-labs/packlens-go/internal/repo"
	"github.com/packlens-labs/packlens-go/internal/storage/objectstore"
)

// runStarter is the slice of *orchestrate.Host the API needs; narrowed for
// handler tests.
type runStarter interface {
	Submit(ctx context.Context, instanceID string, input domain.RunInput)
	Status(instanceID string) (orchestrate.InstanceStatus, error)
}

type verifierAPI struct {
	logger     *slog.Logger
	host       runStarter
	runLog     repo.RunLogRepository
	store      objectstore.Store
	buckets    platformstore.Config
	presignTTL time.Duration
}

func newVerifierAPI(logger *slog.Logger, host runStarter, runLog repo.RunLogRepository, store objectstore.Store, buckets platformstore.Config, presignTTL time.Duration) *verifierAPI {
	return &verifierAPI{
		logger:     logger,
		host:       host,
		runLog:     runLog,
		store:      store,
		buckets:    buckets,
		presignTTL: presignTTL,
	}
}

func (api *verifierAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleStartRun)
	mux.HandleFunc("GET /runs/{instance_id}", api.handleRunStatus)
	mux.HandleFunc("POST /blobs/presign", api.handlePresign)
}

type startRunRequest struct {
	InstanceID string                 `json:"instanceId,omitempty"`
	Container  string                 `json:"container"`
	BlobName   string                 `json:"blobName"`
	Expected   domain.ExpectedFields  `json:"expectedFields"`
	Request    *domain.RequestContext `json:"requestContext,omitempty"`
}

func (api *verifierAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	missing := missingFields(req)
	if len(missing) > 0 {
		api.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "missing_fields",
			"missing": missing,
			"hint":    "container, blobName and expectedFields.{lot,expiryDate,packDate} are required",
		})
		return
	}
	if req.Container != api.buckets.BucketInput {
		api.writeError(w, r, http.StatusBadRequest, "invalid_container")
		return
	}

	input := domain.RunInput{
		Input:    domain.BlobRef{Container: req.Container, Name: req.BlobName},
		Expected: req.Expected,
	}
	if req.Request != nil {
		input.Request = *req.Request
	}
	if strings.TrimSpace(input.Request.User.ID) == "" {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok || strings.TrimSpace(identity.Subject) == "" {
			api.writeError(w, r, http.StatusBadRequest, "requester_unknown")
			return
		}
		input.Request.User = domain.RequestUser{
			ID:    identity.Subject,
			Name:  identity.Name,
			Email: identity.Email,
			Role:  identity.Role(),
		}
	}
	input.Request.Client = mergeClient(input.Request.Client, r)

	instanceID := strings.TrimSpace(req.InstanceID)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	// Detach from the request deadline: the run outlives this response.
	api.host.Submit(context.WithoutCancel(r.Context()), instanceID, input)
	api.logger.Info("run submitted", "instance", instanceID, "blob", req.BlobName)

	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"instanceId": instanceID,
		"statusUrl":  "/runs/" + instanceID,
	})
}

func missingFields(req startRunRequest) []string {
	missing := make([]string, 0, 5)
	if strings.TrimSpace(req.Container) == "" {
		missing = append(missing, "container")
	}
	if strings.TrimSpace(req.BlobName) == "" {
		missing = append(missing, "blobName")
	}
	if strings.TrimSpace(req.Expected.Lot) == "" {
		missing = append(missing, "expectedFields.lot")
	}
	if strings.TrimSpace(req.Expected.ExpiryDate) == "" {
		missing = append(missing, "expectedFields.expiryDate")
	}
	if strings.TrimSpace(req.Expected.PackDate) == "" {
		missing = append(missing, "expectedFields.packDate")
	}
	return missing
}

func mergeClient(client *domain.RequestClient, r *http.Request) *domain.RequestClient {
	merged := domain.RequestClient{}
	if client != nil {
		merged = *client
	}
	if merged.IP == "" {
		merged.IP = r.RemoteAddr
	}
	if merged.UserAgent == "" {
		merged.UserAgent = r.UserAgent()
	}
	if merged == (domain.RequestClient{}) {
		return nil
	}
	return &merged
}

func (api *verifierAPI) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(r.PathValue("instance_id"))
	if instanceID == "" {
		api.writeError(w, r, http.StatusBadRequest, "instance_id_required")
		return
	}

	if st, err := api.host.Status(instanceID); err == nil {
		resp := map[string]any{
			"instanceId":    instanceID,
			"runtimeStatus": st.Status,
		}
		if st.Progress != "" {
			resp["stage"] = st.Progress
		}
		switch st.Status {
		case orchestrate.StatusCompleted:
			resp["output"] = st.Record
		case orchestrate.StatusFailed:
			resp["error"] = st.Err.Error()
		}
		api.writeJSON(w, http.StatusOK, resp)
		return
	}

	// Not hosted here (or the host restarted): fall back to the run log.
	record, err := api.runLog.Get(r.Context(), instanceID)
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "run_not_found")
		return
	}
	if err != nil {
		api.logger.Error("run lookup failed", "instance", instanceID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"instanceId":    instanceID,
		"runtimeStatus": orchestrate.StatusCompleted,
		"output":        record,
	})
}

type presignRequest struct {
	Mode     string `json:"mode"`
	BlobName string `json:"blobName"`
}

// handlePresign issues short-lived direct-access URLs. Uploads are only
// ever granted into the input bucket and reads only out of the output
// bucket, so a caller can never write over pipeline artifacts or read
// another run's intermediate frames.
func (api *verifierAPI) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	blobName := strings.TrimSpace(req.BlobName)
	if blobName == "" {
		api.writeError(w, r, http.StatusBadRequest, "blob_name_required")
		return
	}

	var (
		url    string
		bucket string
		err    error
	)
	switch req.Mode {
	case "upload":
		bucket = api.buckets.BucketInput
		url, err = api.store.PresignPut(r.Context(), bucket, blobName, api.presignTTL)
	case "read":
		bucket = api.buckets.BucketOutput
		url, err = api.store.PresignGet(r.Context(), bucket, blobName, api.presignTTL)
	default:
		api.writeError(w, r, http.StatusBadRequest, "invalid_mode")
		return
	}
	if err != nil {
		api.logger.Error("presign failed", "mode", req.Mode, "blob", blobName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"container": bucket,
		"blobName":  blobName,
		"expiresAt": time.Now().UTC().Add(api.presignTTL),
	})
}

func (api *verifierAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *verifierAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
