package kling

// StylizeRequest asks the image-generation endpoint to render an outfit from
// a reference item image.
type StylizeRequest struct {
	ModelName      string `json:"model_name"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Image          string `json:"image,omitempty"`
	ImageReference string `json:"image_reference,omitempty"`
	N              int    `json:"n"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
}

// TryOnRequest dresses the person in HumanImage with the garment in ClothImage.
type TryOnRequest struct {
	ModelName  string `json:"model_name"`
	HumanImage string `json:"human_image"`
	ClothImage string `json:"cloth_image"`
}

const defaultNegativePrompt = "blurry, distorted body, extra limbs, watermark, text"

// NewStylizeRequest builds a single-image request. The reference image is
// treated as the subject so the item keeps its shape and color.
func NewStylizeRequest(model, prompt, itemImageURL string) StylizeRequest {
	req := StylizeRequest{
		ModelName:      model,
		Prompt:         prompt,
		NegativePrompt: defaultNegativePrompt,
		N:              1,
		AspectRatio:    "3:4",
	}
	if itemImageURL != "" {
		req.Image = itemImageURL
		req.ImageReference = "subject"
	}
	return req
}

func NewTryOnRequest(model, humanImageURL, clothImageURL string) TryOnRequest {
	return TryOnRequest{ModelName: model, HumanImage: humanImageURL, ClothImage: clothImageURL}
}
