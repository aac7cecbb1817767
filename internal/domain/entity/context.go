package entity

import "time"

// ProvisionContext is filled in stage by stage; a nil section means the
// stage producing it has not completed yet.
type ProvisionContext struct {
	Request      RequestContext       `json:"request"`
	Approval     *ApprovalContext     `json:"approval,omitempty"`
	Site         *SiteContext         `json:"site,omitempty"`
	Test         *TestContext         `json:"test,omitempty"`
	Credentials  *CredentialsContext  `json:"credentials,omitempty"`
	Notification *NotificationContext `json:"notification,omitempty"`
}

type RequestContext struct {
	RequestedBy string         `json:"requestedBy"`
	RequestedAt time.Time      `json:"requestedAt"`
	Tenant      TenantSnapshot `json:"tenant"`
}

type TenantSnapshot struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Location     string `json:"location,omitempty"`
	ContactEmail string `json:"contactEmail,omitempty"`
}

type ApprovalContext struct {
	ApprovedBy   string    `json:"approvedBy"`
	ApproverName string    `json:"approverName,omitempty"`
	ApprovedAt   time.Time `json:"approvedAt"`
	Notes        string    `json:"notes,omitempty"`
}

type SiteContext struct {
	SiteURL        string    `json:"siteUrl"`
	SitePath       string    `json:"sitePath"`
	CertificateARN string    `json:"certificateArn,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type TestContext struct {
	Passed   bool      `json:"passed"`
	Score    int       `json:"score"`
	TestedAt time.Time `json:"testedAt"`
}

type CredentialsContext struct {
	AdminUsername string    `json:"adminUsername"`
	TestUsername  string    `json:"testUsername"`
	TestUserEmail string    `json:"testUserEmail"`
	IssuedAt      time.Time `json:"issuedAt"`
}

type NotificationContext struct {
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
