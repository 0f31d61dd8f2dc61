package main

import (
	"encoding/json"
	"net/http"

	"github.com/kubernaut/controlplane/internal/approvalmanager"
	"github.com/kubernaut/controlplane/internal/cperr"
)

func writeApprovalList(w http.ResponseWriter, pending []approvalmanager.PendingApproval) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pending)
}

type approvalReplyRequest struct {
	Text          string `json:"text"`
	DecidedBy     string `json:"decided_by"`
	ChannelType   string `json:"channel_type"`
	ChannelTarget string `json:"channel_target"`
}

// handleApprovalReply lets a chat integration or operator tool POST a raw
// reply string ("approve a1b2c3d4") instead of requiring the approval ID up
// front, matching the same free-text parsing approvalmanager.ProcessReply
// already does for inbound chat messages. ChannelType/ChannelTarget must
// match where the original approval question was posted.
func handleApprovalReply(w http.ResponseWriter, r *http.Request, approvals *approvalmanager.Manager) {
	var req approvalReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	response, ok, err := approvals.ProcessReply(r.Context(), req.Text, req.DecidedBy, req.ChannelType, req.ChannelTarget)
	if err != nil {
		if cperr.IsAuthorizationDenied(err) {
			http.Error(w, "unauthorized", http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no approve/reject command recognized", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"result": response})
}
