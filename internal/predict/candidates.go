package predict

import (
	"fmt"
	"sort"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/yolo/internal/box"
)

// Candidate is a single anchor whose best class score passed the threshold.
type Candidate struct {
	Box        box.Box // xyxy, network input pixels
	Confidence float32
	Class      int
	Anchor     int
}

// Candidates extracts per-image candidates from a decoded prediction
// [B, 4+nc, A]: for each anchor the best class is taken, anchors scoring
// above conf are kept, sorted by descending confidence and truncated to
// maxDet. Overlapping boxes are not suppressed.
func Candidates[B tensor.Backend](pred *tensor.Tensor[float32, B], conf float32, maxDet int) [][]Candidate {
	shape := pred.Shape()
	if len(shape) != 3 || shape[1] <= 4 {
		panic(fmt.Sprintf("candidates: expected prediction [B, 4+nc, A], got %v", shape))
	}
	batch, channels, anchors := shape[0], shape[1], shape[2]
	data := pred.Data()

	out := make([][]Candidate, batch)
	for b := 0; b < batch; b++ {
		img := data[b*channels*anchors : (b+1)*channels*anchors]
		at := func(c, a int) float32 { return img[c*anchors+a] }

		var cands []Candidate
		for a := 0; a < anchors; a++ {
			best, cls := at(4, a), 0
			for c := 5; c < channels; c++ {
				if v := at(c, a); v > best {
					best, cls = v, c-4
				}
			}
			if best <= conf {
				continue
			}
			cands = append(cands, Candidate{
				Box:        box.FromXYWH(at(0, a), at(1, a), at(2, a), at(3, a)),
				Confidence: best,
				Class:      cls,
				Anchor:     a,
			})
		}

		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].Confidence > cands[j].Confidence
		})
		if maxDet > 0 && len(cands) > maxDet {
			cands = cands[:maxDet]
		}
		out[b] = cands
	}
	return out
}
