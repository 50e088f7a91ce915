package httpserver

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      uuid.UUID `json:"userId"`
	Username    string    `json:"username"`
}

// register creates a new user account.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	id, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"id": id})
}

// login authenticates a user and returns an access token.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt,
		UserID:      u.ID,
		Username:    u.Username,
	})
}
