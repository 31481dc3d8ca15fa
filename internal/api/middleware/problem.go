package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ProblemTypeBase prefixes the RFC 7807 type URI of every error response.
const ProblemTypeBase = "https://correlator.io/problems/retail/"

// problem mirrors api.ProblemDetail. The api package imports this one, so the
// shape is repeated here rather than shared.
type problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Instance      string `json:"instance"`
	CorrelationID string `json:"correlationId"`
}

// writeRFC7807Error writes a problem+json body for errors raised inside the middleware chain.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, status int, detail, correlationID string) error {
	body, err := json.Marshal(problem{
		Type:          fmt.Sprintf("%s%d", ProblemTypeBase, status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	})
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_, err = w.Write(body)

	return err
}
