package mail

import (
	"encoding/json"
	"fmt"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
)

type MailData interface {
	GetMailType() consts.Template
	GetSubject() string
}

type ApprovalPendingData struct {
	ChurchName string `json:"churchName"`
	SiteSlug   string `json:"siteSlug"`
	Language   string `json:"language"`
	QueueID    string `json:"queueId"`
	Year       int    `json:"-"`
}

func (d ApprovalPendingData) GetMailType() consts.Template {
	return consts.TemplateApprovalPending
}

func (d ApprovalPendingData) GetSubject() string {
	return fmt.Sprintf("%s: your site request is awaiting approval", d.ChurchName)
}

type ProvisionCompletedData struct {
	ChurchName    string `json:"churchName"`
	Language      string `json:"language"`
	SiteSlug      string `json:"siteSlug"`
	SiteURL       string `json:"siteUrl"`
	AdminEmail    string `json:"adminEmail"`
	AdminUsername string `json:"adminUsername"`
	AdminPassword string `json:"adminPassword"`
	TestUsername  string `json:"testUsername"`
	TestUserEmail string `json:"testUserEmail"`
	TestPassword  string `json:"testPassword"`
	Year          int    `json:"-"`
}

func (d ProvisionCompletedData) GetMailType() consts.Template {
	return consts.TemplateProvisionCompleted
}

func (d ProvisionCompletedData) GetSubject() string {
	return fmt.Sprintf("%s: your church site is ready", d.ChurchName)
}

func mapToMailData(template consts.Template, data map[string]any, year int) (MailData, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshalling mail context, %v", err)
	}
	switch template {
	case consts.TemplateApprovalPending:
		var d ApprovalPendingData
		if err = json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		d.Year = year
		return d, nil
	case consts.TemplateProvisionCompleted:
		var d ProvisionCompletedData
		if err = json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		d.Year = year
		return d, nil
	}
	return nil, fmt.Errorf("unknown mail template %q", template)
}
