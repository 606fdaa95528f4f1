package api

import (
	"context"
	"fmt"
	"net/url"
)

// FetchRules retrieves the desired access rules for a node.
// GET /api/nodes/{node_id}/rules
//
// Every failure is returned as a *FetchError; no partial result is returned.
func (c *ControlPlane) FetchRules(ctx context.Context, nodeID string) (*RulesResponse, error) {
	var resp RulesResponse
	path := fmt.Sprintf("/api/nodes/%s/rules", url.PathEscape(nodeID))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, &FetchError{NodeID: nodeID, Err: err}
	}
	return &resp, nil
}
