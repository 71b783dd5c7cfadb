package detect

import "pancount/internal/model"

// Filter keeps the boxes whose area and aspect ratio fall inside params and
// recounts the sample from them. Zero bounds are open.
func Filter(sample model.DetectionSample, p Params) model.DetectionSample {
	kept := make([]model.Box, 0, len(sample.Boxes))
	for _, b := range sample.Boxes {
		if b.Area <= 0 {
			b.Area = float64(b.W * b.H)
		}
		if b.AspectRatio <= 0 && b.H > 0 {
			b.AspectRatio = float64(b.W) / float64(b.H)
		}
		if p.MinArea > 0 && b.Area < float64(p.MinArea) {
			continue
		}
		if p.MaxArea > 0 && b.Area > float64(p.MaxArea) {
			continue
		}
		if p.MinAspectRatio > 0 && b.AspectRatio < p.MinAspectRatio {
			continue
		}
		if p.MaxAspectRatio > 0 && b.AspectRatio > p.MaxAspectRatio {
			continue
		}
		kept = append(kept, b)
	}
	sample.Boxes = kept
	sample.Count = len(kept)
	return sample
}
