package rtconsole

// Ptr returns a pointer to v. Handy for the optional Session fields:
//
//	session := Session{
//	    Voice:        Ptr("alloy"),
//	    Instructions: Ptr("You are a helpful assistant."),
//	}
func Ptr[T any](v T) *T { return &v }
