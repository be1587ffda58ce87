package api

// ApproveRequest is the optional body of POST /api/plans/:id/approve.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// RejectRequest is the body of POST /api/plans/:id/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}
