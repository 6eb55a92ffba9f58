package audio

// DefaultThreshold is the normalized RMS level above which a frame counts as speech.
const DefaultThreshold = 0.02

// Edge reports a change in speech state relative to the previous frame.
type Edge int

const (
	EdgeNone         Edge = iota
	EdgeSpeechStart       // became speaking
	EdgeSilenceStart      // became silent
)

func (e Edge) String() string {
	switch e {
	case EdgeSpeechStart:
		return "speech_start"
	case EdgeSilenceStart:
		return "silence_start"
	default:
		return "none"
	}
}

// Result is the classification of a single frame.
type Result struct {
	Speaking bool
	Level    float64
	Edge     Edge
}

// Detector is an energy based voice activity detector. It is not safe for
// concurrent use; the session serializes calls.
type Detector struct {
	threshold float64
	speaking  bool
}

// NewDetector creates a detector. A non-positive threshold selects DefaultThreshold.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured speech threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Classify computes the frame level and the edge against the previous call.
// The detector starts out silent, so leading silence yields no edge.
func (d *Detector) Classify(frame []byte) Result {
	level := RMS(frame)
	speaking := level > d.threshold

	edge := EdgeNone
	switch {
	case speaking && !d.speaking:
		edge = EdgeSpeechStart
	case !speaking && d.speaking:
		edge = EdgeSilenceStart
	}
	d.speaking = speaking

	return Result{Speaking: speaking, Level: level, Edge: edge}
}

// Speaking reports the result of the last classification.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// Reset clears the edge history.
func (d *Detector) Reset() {
	d.speaking = false
}
