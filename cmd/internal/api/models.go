package api

import "time"

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type pinRequest struct {
	Pin string `json:"pin"`
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type lockResponse struct {
	Available    bool       `json:"available"`
	HasPin       bool       `json:"has_pin"`
	Locked       bool       `json:"locked"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

type stateResponse struct {
	Screen         string       `json:"screen"`
	SessionPresent bool         `json:"session_present"`
	Lock           lockResponse `json:"lock"`
}

type pinResultResponse struct {
	OK     bool   `json:"ok"`
	Screen string `json:"screen"`
}
