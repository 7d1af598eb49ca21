package dlib

import (
	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc func(data []byte) ([]face.Face, error)
	CloseFunc     func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

// newMockExtractor returns an Extractor whose models "load" into mock.
func newMockExtractor(mock *MockFaceEngine) *Extractor {
	e := NewExtractor()
	e.open = func(string) (engine, error) { return mock, nil }
	return e
}
