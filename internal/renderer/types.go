// Package renderer is the client side of the image rendering service:
// visualization, angle views, furniture removal jobs, segmentation and
// instruction edits. Images travel as base64 data URIs.
package renderer

import (
	"context"

	"github.com/haasonsaas/roomviz/internal/catalog"
)

// ClarificationAction resolves a needs_clarification response.
type ClarificationAction string

const (
	ActionReplaceOne ClarificationAction = "replace_one"
	ActionReplaceAll ClarificationAction = "replace_all"
	ActionAdd        ClarificationAction = "add"
)

// Valid reports whether a is one of the accepted actions.
func (a ClarificationAction) Valid() bool {
	switch a {
	case ActionReplaceOne, ActionReplaceAll, ActionAdd:
		return true
	}
	return false
}

// QualityHigh requests the slower, higher fidelity render.
const QualityHigh = "high"

// RoomAnalysis carries optional scene hints for full renders.
type RoomAnalysis struct {
	RoomType   string   `json:"room_type,omitempty"`
	Style      string   `json:"style,omitempty"`
	Lighting   string   `json:"lighting,omitempty"`
	Dimensions string   `json:"dimensions,omitempty"`
	Colors     []string `json:"colors,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Position is a normalized [0,1] placement of a product instance.
type Position struct {
	InstanceID string  `json:"id,omitempty"`
	ProductID  string  `json:"product_id,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width,omitempty"`
	Height     float64 `json:"height,omitempty"`
}

// VisualizeRequest is the body of POST /visualize.
type VisualizeRequest struct {
	SessionID            string              `json:"session_id,omitempty"`
	BaseImage            string              `json:"base_image"`
	Products             []catalog.Instance  `json:"products"`
	Analysis             *RoomAnalysis       `json:"analysis,omitempty"`
	IsIncremental        bool                `json:"is_incremental"`
	ForceReset           bool                `json:"force_reset"`
	UserUploadedNewImage bool                `json:"user_uploaded_new_image"`
	CustomPositions      []Position          `json:"custom_positions,omitempty"`
	Action               ClarificationAction `json:"action,omitempty"`
	Quality              string              `json:"quality,omitempty"`
}

// ExistingFurniture is a piece the renderer found in the base image but
// could not match to a canvas product.
type ExistingFurniture struct {
	ID          string    `json:"id,omitempty"`
	Label       string    `json:"label"`
	Category    string    `json:"category,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	BoundingBox []float64 `json:"bounding_box,omitempty"`
}

// VisualizeResponse is either a rendered image or a clarification request.
type VisualizeResponse struct {
	RenderedImage      string              `json:"rendered_image,omitempty"`
	NeedsClarification bool                `json:"needs_clarification,omitempty"`
	Message            string              `json:"message,omitempty"`
	ExistingFurniture  []ExistingFurniture `json:"existing_furniture,omitempty"`
}

// AngleRequest is the body of POST /visualize/angle.
type AngleRequest struct {
	BaseImage string             `json:"base_image"`
	Angle     string             `json:"angle"`
	Products  []catalog.Instance `json:"products,omitempty"`
}

// ImageResponse is returned by the endpoints that produce a single image.
// Some endpoints name the field "image", others "rendered_image".
type ImageResponse struct {
	RenderedImage string `json:"rendered_image,omitempty"`
	Image         string `json:"image,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Result returns whichever image field is set.
func (r *ImageResponse) Result() string {
	if r == nil {
		return ""
	}
	if r.RenderedImage != "" {
		return r.RenderedImage
	}
	return r.Image
}

// EditRequest is the body of POST /edit-with-instructions.
type EditRequest struct {
	Image       string             `json:"image"`
	Instruction string             `json:"instruction"`
	Products    []catalog.Instance `json:"products,omitempty"`
}

// RemoveFurnitureRequest is the body of POST /furniture/remove.
type RemoveFurnitureRequest struct {
	Image string `json:"image"`
}

// RemoveFurnitureResponse carries the started job.
type RemoveFurnitureResponse struct {
	JobID string `json:"job_id"`
}

// JobStatus is the renderer's furniture-removal job state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobStatusResponse is returned by GET /furniture/status/{job_id}.
type JobStatusResponse struct {
	Status JobStatus `json:"status"`
	Image  string    `json:"image,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Layer is an extracted furniture cutout.
type Layer struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"product_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Cutout     string  `json:"cutout"`
	Mask       string  `json:"mask,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ExtractLayersRequest is the body of POST /segmentation/extract-layers.
type ExtractLayersRequest struct {
	Image    string             `json:"image"`
	Products []catalog.Instance `json:"products"`
}

// ExtractLayersResponse holds the clean background and detected layers.
type ExtractLayersResponse struct {
	CleanBackground string  `json:"clean_background"`
	Layers          []Layer `json:"layers"`
}

// Point is a normalized click position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SegmentAtPointRequest is the body of POST /segmentation/segment-at-point.
type SegmentAtPointRequest struct {
	Image string  `json:"image"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// SegmentAtPointsRequest is the body of POST /segmentation/segment-at-points.
type SegmentAtPointsRequest struct {
	Image  string  `json:"image"`
	Points []Point `json:"points"`
}

// SegmentResponse describes a single segmented piece.
type SegmentResponse struct {
	Cutout              string  `json:"cutout"`
	Mask                string  `json:"mask"`
	X                   float64 `json:"x"`
	Y                   float64 `json:"y"`
	Width               float64 `json:"width"`
	Height              float64 `json:"height"`
	InpaintedBackground string  `json:"inpainted_background,omitempty"`
	MatchedProductID    string  `json:"matched_product_id,omitempty"`
}

// FinalizeMoveRequest is the body of POST /segmentation/finalize-move.
type FinalizeMoveRequest struct {
	OriginalImage       string   `json:"original_image"`
	Mask                string   `json:"mask"`
	Cutout              string   `json:"cutout"`
	OriginalPosition    Position `json:"original_position"`
	NewPosition         Position `json:"new_position"`
	Scale               float64  `json:"scale"`
	InpaintedBackground string   `json:"inpainted_background,omitempty"`
	MatchedProductID    string   `json:"matched_product_id,omitempty"`
}

// LayerPlacement is one layer in a composite request.
type LayerPlacement struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id,omitempty"`
	Cutout    string  `json:"cutout"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Scale     float64 `json:"scale"`
	Rotation  float64 `json:"rotation"`
	ZIndex    int     `json:"z_index"`
}

// CompositeLayersRequest is the body of POST /segmentation/composite-layers.
type CompositeLayersRequest struct {
	Background string           `json:"background"`
	Layers     []LayerPlacement `json:"layers"`
}

// RevisualizeRequest is the body of POST
// /segmentation/revisualize-with-positions.
type RevisualizeRequest struct {
	BaseImage string             `json:"base_image"`
	Products  []catalog.Instance `json:"products"`
	Positions []Position         `json:"positions"`
}

// Renderer produces new images from an existing one.
type Renderer interface {
	Visualize(ctx context.Context, req VisualizeRequest) (*VisualizeResponse, error)
	VisualizeAngle(ctx context.Context, req AngleRequest) (*ImageResponse, error)
	EditWithInstructions(ctx context.Context, req EditRequest) (*ImageResponse, error)
}

// FurnitureRemover runs asynchronous furniture-removal jobs.
type FurnitureRemover interface {
	RemoveFurniture(ctx context.Context, req RemoveFurnitureRequest) (*RemoveFurnitureResponse, error)
	FurnitureStatus(ctx context.Context, jobID string) (*JobStatusResponse, error)
}

// Segmenter extracts and re-composites furniture layers.
type Segmenter interface {
	ExtractLayers(ctx context.Context, req ExtractLayersRequest) (*ExtractLayersResponse, error)
	SegmentAtPoint(ctx context.Context, req SegmentAtPointRequest) (*SegmentResponse, error)
	SegmentAtPoints(ctx context.Context, req SegmentAtPointsRequest) (*SegmentResponse, error)
	FinalizeMove(ctx context.Context, req FinalizeMoveRequest) (*ImageResponse, error)
	CompositeLayers(ctx context.Context, req CompositeLayersRequest) (*ImageResponse, error)
	RevisualizeWithPositions(ctx context.Context, req RevisualizeRequest) (*ImageResponse, error)
}

// StoreLister lists the retailers products can come from.
type StoreLister interface {
	Stores(ctx context.Context) ([]string, error)
}

// Client is the full rendering service contract.
type Client interface {
	Renderer
	FurnitureRemover
	Segmenter
	StoreLister
}
