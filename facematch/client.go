package facematch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/apex/log"
)

// Client handles communication with the face match scoring service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CompareRequest represents the request to the face match service.
type CompareRequest struct {
	ReferenceImage string `json:"reference_image"`
	SightingImage  string `json:"sighting_image"`
}

// CompareResponse represents the response from the face match service.
type CompareResponse struct {
	Similarity              float64 `json:"similarity"`
	AnnotatedReferenceImage string  `json:"annotated_reference_image"`
	AnnotatedSightingImage  string  `json:"annotated_sighting_image"`
	Status                  string  `json:"status"`
}

// NewClient creates a new face match client. baseURL empty means scoring is
// disabled; callers check Enabled before using the client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // image comparison is slow
		},
	}
}

// Enabled reports whether a scoring service is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Compare sends the missing person's reference photo and a sighting photo to
// the scoring service and returns the similarity score plus annotated image
// URLs. Both images are passed by URL.
func (c *Client) Compare(ctx context.Context, referenceImage, sightingImage string) (*CompareResponse, error) {
	request := CompareRequest{
		ReferenceImage: referenceImage,
		SightingImage:  sightingImage,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/compare-faces", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Infof("Sending comparison to face match service: %s", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to face match service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("face match service returned status %d", resp.StatusCode)
	}

	var response CompareResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Status != "completed" {
		return nil, fmt.Errorf("face match service returned status: %s", response.Status)
	}

	log.Infof("Face comparison completed with similarity %.4f", response.Similarity)
	return &response, nil
}
