package timex

import "time"

// NowMs returns Unix milliseconds as int64. Bus payload timestamps use this
// everywhere so firmware and host agree on the format.
func NowMs() int64 { return time.Now().UnixMilli() }
