package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lukasbauer/syncup/internal/store"
)

// handlePushRegister registers a device push token
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	var body struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if !store.ValidPlatform(body.Platform) {
		writeError(w, http.StatusBadRequest, "platform must be 'ios' or 'android'")
		return
	}

	if err := r.store.RegisterPushToken(req.Context(), user.ID, body.Token, body.Platform); err != nil {
		r.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to register push token")
		captureError(req, err, "push: register token")
		writeError(w, http.StatusInternalServerError, "failed to register token")
		return
	}

	r.logger.Info().Str("platform", body.Platform).Str("user_id", user.ID).Msg("registered push token")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushUnregister removes a device push token
func (r *Router) handlePushUnregister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	err := r.store.UnregisterPushToken(req.Context(), user.ID, body.Token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "token not registered")
		return
	}
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to unregister push token")
		writeError(w, http.StatusInternalServerError, "failed to unregister token")
		return
	}

	r.logger.Info().Str("user_id", user.ID).Msg("unregistered push token")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
