package job

// Defaults applied by Resolve when the request omits a field.
const (
	DefaultDuration       = 30
	DefaultInferenceSteps = 8
	DefaultGuidanceScale  = 15.0
)

// Request is the inbound job payload delivered by the dispatch runtime.
// All fields are optional.
type Request struct {
	Tags           string  `json:"tags,omitempty" csv:"tags"`
	Lyrics         string  `json:"lyrics,omitempty" csv:"lyrics"`
	Duration       int     `json:"duration,omitempty" csv:"duration"`
	Seed           *int64  `json:"seed,omitempty" csv:"seed"`
	InferenceSteps int     `json:"inference_steps,omitempty" csv:"inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty" csv:"guidance_scale"`
}

// Parameters is a resolved, per-job copy of the request with defaults
// applied and the generation prompt built.
type Parameters struct {
	Prompt         string
	Duration       int
	Seed           *int64
	InferenceSteps int
	GuidanceScale  float64
}

// Resolve builds the generation parameters for a request. Missing fields
// take defaults, empty tags and lyrics yield an empty prompt. It never
// fails.
func Resolve(req *Request, defaultDuration int) Parameters {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	prompt := req.Lyrics
	if req.Tags != "" {
		prompt = req.Tags + "\n\n" + req.Lyrics
	}
	duration := req.Duration
	if duration <= 0 {
		duration = defaultDuration
	}
	steps := req.InferenceSteps
	if steps <= 0 {
		steps = DefaultInferenceSteps
	}
	guidance := req.GuidanceScale
	if guidance <= 0 {
		guidance = DefaultGuidanceScale
	}
	return Parameters{
		Prompt:         prompt,
		Duration:       duration,
		Seed:           req.Seed,
		InferenceSteps: steps,
		GuidanceScale:  guidance,
	}
}

// Response is the job result returned to the dispatch runtime. Either the
// audio fields or Error is set, never both.
type Response struct {
	AudioBase64 string `json:"audio_base64,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Filename    string `json:"filename,omitempty"`

	Error string `json:"error,omitempty"`
}
