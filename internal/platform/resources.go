package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Destination API endpoints.
const (
	PathOrganizations      = "/api/v1/organizations"
	PathLocations          = "/api/v1/locations"
	PathConfigurationTypes = "/api/v1/configuration_types"
	PathConfigurations     = "/api/v1/configurations"
	PathCustomAssetTypes   = "/api/v1/custom_asset_types"
	PathCustomAssets       = "/api/v1/custom_assets"
	PathDocuments          = "/api/v1/documents"
	PathPasswords          = "/api/v1/passwords"
	PathRelationships      = "/api/v1/relationships"
	PathAttachments        = "/api/v1/attachments"
	PathDocumentImages     = "/api/v1/document_images"
)

// AttachmentTicket is the response to a create-attachment request: the
// attachment record plus a presigned URL to PUT the bytes to.
type AttachmentTicket struct {
	ID        string `json:"id"`
	UploadURL string `json:"upload_url"`
}

// ImageTicket is the response to a document-image upload request. The
// StableURL is the permanent address rewritten into document HTML.
type ImageTicket struct {
	ID        string `json:"id"`
	UploadURL string `json:"upload_url"`
	StableURL string `json:"image_url"`
}

// CreateAttachment requests an upload ticket for an entity attachment.
func (c *Client) CreateAttachment(orgID, entityType, entityID, filename, contentType string, size int64) (*AttachmentTicket, error) {
	body, err := c.Post(PathAttachments, map[string]any{
		"organization_id": orgID,
		"entity_type":     entityType,
		"entity_id":       entityID,
		"filename":        filename,
		"content_type":    contentType,
		"size":            size,
	})
	if err != nil {
		return nil, err
	}
	var ticket AttachmentTicket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, fmt.Errorf("parsing attachment ticket: %w", err)
	}
	return &ticket, nil
}

// UploadDocumentImage requests an upload ticket for an embedded document
// image. documentID may be empty when the owning document is not yet
// created.
func (c *Client) UploadDocumentImage(orgID, filename, contentType string, size int64, documentID string) (*ImageTicket, error) {
	payload := map[string]any{
		"organization_id": orgID,
		"filename":        filename,
		"content_type":    contentType,
		"size":            size,
	}
	if documentID != "" {
		payload["document_id"] = documentID
	}
	body, err := c.Post(PathDocumentImages, payload)
	if err != nil {
		return nil, err
	}
	var ticket ImageTicket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, fmt.Errorf("parsing image ticket: %w", err)
	}
	return &ticket, nil
}

// PutPresigned PUTs raw bytes to a presigned URL. No auth header: the
// signature is in the URL.
func (c *Client) PutPresigned(uploadURL string, data []byte, contentType string) error {
	req, err := http.NewRequest("PUT", uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("PUT %s: %w", uploadURL, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: "PUT presigned", Body: string(body)}
	}
	return nil
}
