package site

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/config"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type Uploader interface {
	UploadFile(ctx context.Context, key string, contentType *string, body io.Reader) (string, error)
}

type DNS interface {
	UpsertCNAME(ctx context.Context, hostedZoneID, name, target string) error
	InvalidatePaths(ctx context.Context, distributionID string, paths ...string) error
}

type Certificates interface {
	CreateCertificate(ctx context.Context, domain, token string) (string, error)
}

type Provisioner struct {
	cfg      *config.SiteConfig
	uploader Uploader
	dns      DNS
	certs    Certificates
	tmpl     *template.Template
	now      func() time.Time
}

// NewProvisioner builds a provisioner; dns and certs may be nil when the
// deployment has no Route53 zone or custom domains.
func NewProvisioner(cfg *config.SiteConfig, uploader Uploader, dns DNS, certs Certificates) *Provisioner {
	return &Provisioner{
		cfg:      cfg,
		uploader: uploader,
		dns:      dns,
		certs:    certs,
		tmpl:     template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl")),
		now:      time.Now,
	}
}

type page struct {
	Language     consts.Language
	ChurchName   string
	Location     string
	ContactEmail string
	SiteURL      string
	DateFormat   string
	Currency     string
	Texts        texts
}

type manifest struct {
	QueueID    string          `json:"queueId"`
	Slug       string          `json:"slug"`
	Language   consts.Language `json:"language"`
	DateFormat string          `json:"dateFormat"`
	Currency   string          `json:"currency"`
	TenantID   int64           `json:"tenantId"`
	ChurchName string          `json:"churchName"`
	Location   string          `json:"location,omitempty"`
	Email      string          `json:"email,omitempty"`
	SiteURL    string          `json:"siteUrl"`
	DomainName string          `json:"domainName,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (p *Provisioner) ProvisionSite(ctx context.Context, req interfaces.SiteRequest) (interfaces.SiteResult, error) {
	sitePath := strings.Trim(p.cfg.PathPrefix, "/") + "/" + req.SiteSlug
	siteURL := strings.TrimRight(p.cfg.BaseURL, "/") + "/" + sitePath
	prof := profileFor(req.Language)

	var buf bytes.Buffer
	err := p.tmpl.Execute(&buf, page{
		Language:     req.Language,
		ChurchName:   req.Tenant.Name,
		Location:     req.Tenant.Location,
		ContactEmail: req.Tenant.ContactEmail,
		SiteURL:      siteURL,
		DateFormat:   prof.DateFormat,
		Currency:     prof.Currency,
		Texts:        prof.Texts,
	})
	if err != nil {
		return interfaces.SiteResult{}, fmt.Errorf("failed to render landing page: %w", err)
	}

	htmlType := "text/html; charset=utf-8"
	if _, err = p.uploader.UploadFile(ctx, sitePath+"/index.html", &htmlType, &buf); err != nil {
		return interfaces.SiteResult{}, classify(fmt.Errorf("failed to upload index.html: %w", err))
	}

	meta, err := json.Marshal(manifest{
		QueueID:    req.QueueID.String(),
		Slug:       req.SiteSlug,
		Language:   req.Language,
		DateFormat: prof.DateFormat,
		Currency:   prof.Currency,
		TenantID:   req.Tenant.ID,
		ChurchName: req.Tenant.Name,
		Location:   req.Tenant.Location,
		Email:      req.Tenant.ContactEmail,
		SiteURL:    siteURL,
		DomainName: req.DomainName,
		CreatedAt:  p.now().UTC(),
	})
	if err != nil {
		return interfaces.SiteResult{}, err
	}
	jsonType := "application/json"
	if _, err = p.uploader.UploadFile(ctx, sitePath+"/site.json", &jsonType, bytes.NewReader(meta)); err != nil {
		return interfaces.SiteResult{}, classify(fmt.Errorf("failed to upload site.json: %w", err))
	}

	if p.dns != nil && p.cfg.HostedZoneID != "" && p.cfg.BaseDomain != "" && p.cfg.CDNDomain != "" {
		name := req.SiteSlug + "." + p.cfg.BaseDomain
		if err = p.dns.UpsertCNAME(ctx, p.cfg.HostedZoneID, name, p.cfg.CDNDomain); err != nil {
			return interfaces.SiteResult{}, classify(err)
		}
	}
	if p.dns != nil && p.cfg.DistributionID != "" {
		if err = p.dns.InvalidatePaths(ctx, p.cfg.DistributionID, "/"+sitePath+"/*"); err != nil {
			return interfaces.SiteResult{}, classify(err)
		}
	}

	res := interfaces.SiteResult{SiteURL: siteURL, SitePath: sitePath}
	if req.DomainName != "" && p.certs != nil {
		arn, err := p.certs.CreateCertificate(ctx, req.DomainName, req.QueueID.String())
		if err != nil {
			return interfaces.SiteResult{}, classify(fmt.Errorf("failed to request certificate for %s: %w", req.DomainName, err))
		}
		res.CertificateARN = arn
	}

	slog.Info("site provisioned", "queueID", req.QueueID, "slug", req.SiteSlug, "url", siteURL)
	return res, nil
}

// classify marks throttling and server side AWS failures as retryable. Every
// write above is an overwrite, so repeating the stage is safe.
func classify(err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return errs.RetryableError{Err: err}
		}
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "PriorRequestNotComplete", "SlowDown":
			return errs.RetryableError{Err: err}
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.RetryableError{Err: err}
	}
	return err
}
