package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// envelope is the same {success, error, data} shape pkg/api's Manager
// routes use, reimplemented here rather than imported so a Worker's
// south-bound server has no build dependency on the Manager's
// north-bound one.
type envelope struct {
	Success bool        `json:"success"`
	Error   *errPayload `json:"error,omitempty"`
	Data    any         `json:"data,omitempty"`
}

type errPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeSuccess(c *gin.Context, status int) {
	c.JSON(status, envelope{Success: true})
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func writeError(c *gin.Context, status int, err error, details any) {
	kind := "Error"
	if k, ok := err.(types.Kinded); ok {
		kind = k.Kind()
	}
	c.JSON(status, envelope{
		Success: false,
		Error:   &errPayload{Kind: kind, Message: err.Error(), Details: details},
	})
}

func writeProtocolError(c *gin.Context, route string, err error) {
	writeError(c, http.StatusBadRequest, &types.ProtocolError{Detail: route + ": " + err.Error()}, nil)
}
