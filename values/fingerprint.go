package values

// Fingerprint canonically identifies a backend function plus its arguments.
// Because argument encoding sorts object keys, two argument values with the
// same logical content always produce the same fingerprint regardless of
// property insertion order.
type Fingerprint struct {
	Path string
	Args string // canonical wire text of the arguments
}

// NewFingerprint encodes args canonically and pairs the result with the
// function path.
func NewFingerprint(path string, args any) (Fingerprint, error) {
	enc, err := Encode(args)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Path: path, Args: enc}, nil
}

func (f Fingerprint) String() string {
	return f.Path + "(" + f.Args + ")"
}

// Less gives the stable order used when replaying subscriptions.
func (f Fingerprint) Less(other Fingerprint) bool {
	if f.Path != other.Path {
		return f.Path < other.Path
	}
	return f.Args < other.Args
}
