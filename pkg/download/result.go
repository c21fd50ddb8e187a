package download

import "fmt"

// Result is the outcome of one DownloadFeature call. A download never
// propagates as an error to the batch; instead every attempt, successful
// or not, produces a Result so the batch can continue past individual
// failures.
type Result struct {
	Success  bool
	Title    string
	Filename string
	Message  string
}

// Ok reports a successful download of filename for title.
func Ok(title, filename string) Result {
	return Result{Success: true, Title: title, Filename: filename}
}

// Fail reports a failed download of title, with message explaining why.
func Fail(title, message string) Result {
	return Result{Success: false, Title: title, Message: message}
}

func (r Result) String() string {
	if r.Success {
		return fmt.Sprintf("%s -> %s", r.Title, r.Filename)
	}
	return fmt.Sprintf("%s: failed (%s)", r.Title, r.Message)
}
