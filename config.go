package missive

import "github.com/voklev/missive/internal"

// Config is the process-wide default payload encoding. Swapping the
// functions before start-up rebinds every codec and journal that did not
// pick an explicit format.
var Config = &internal.Config
