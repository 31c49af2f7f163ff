// Package requestdata carries the authenticated caller identity through the
// request context.
package requestdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
)

type RequestData struct {
	UserID uuid.UUID
	// Groups holds the raw group membership markers from the identity
	// provider, e.g. "/vlab/{id}" and "/proj/{vlabID}/{projectID}".
	Groups []string
	// Token is the caller's bearer credential, forwarded to the
	// knowledge-graph API on tool execution.
	Token string
}

type requestDataKey struct{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey{})
	rd, ok := val.(*RequestData)
	if !ok {
		return nil
	}
	return rd
}

// AuthorizeProjectAccess checks the caller's group memberships against a lab
// and optional project scope. Both markers must be present when a project is
// named.
func AuthorizeProjectAccess(groups []string, vlabID, projectID string) error {
	vlabID = strings.TrimSpace(vlabID)
	projectID = strings.TrimSpace(projectID)
	if vlabID == "" {
		return nil
	}

	member := map[string]bool{}
	for _, g := range groups {
		member[strings.TrimSpace(g)] = true
	}

	if !member[fmt.Sprintf("/vlab/%s", vlabID)] {
		return apperrors.Authorization("not a member of the virtual lab")
	}
	if projectID != "" && !member[fmt.Sprintf("/proj/%s/%s", vlabID, projectID)] {
		return apperrors.Authorization("not a member of the project")
	}
	return nil
}
