//go:build dlib

package vision

import (
	"fmt"

	face "github.com/Kagami/go-face"
)

// DlibDetector runs dlib's HOG detector and ResNet embedding model.
// modelDir must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
type DlibDetector struct {
	rec *face.Recognizer
}

// NewDlibDetector loads the models from modelDir.
func NewDlibDetector(modelDir string) (*DlibDetector, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load face models from %s: %w", modelDir, err)
	}
	return &DlibDetector{rec: rec}, nil
}

// Detect finds every face in a JPEG image.
func (d *DlibDetector) Detect(img []byte) ([]Detection, error) {
	faces, err := d.rec.Recognize(img)
	if err != nil {
		return nil, err
	}

	dets := make([]Detection, 0, len(faces))
	for _, f := range faces {
		desc := make([]float32, Dim)
		copy(desc, f.Descriptor[:])
		dets = append(dets, Detection{Region: f.Rectangle, Descriptor: desc})
	}
	return dets, nil
}

// Close frees the native models.
func (d *DlibDetector) Close() error {
	d.rec.Close()
	return nil
}
