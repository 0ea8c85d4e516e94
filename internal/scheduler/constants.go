package scheduler

import "time"

// StatusTimeout bounds how long HTTP status queries wait on a lane.
const StatusTimeout = 2 * time.Second
