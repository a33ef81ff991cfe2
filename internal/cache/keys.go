package cache

import "fmt"

func ProgramStatusKey(programID string) string {
	return fmt.Sprintf("program:status:%s", programID)
}

// ProgramLockKey guards the pipeline and retries of one program.
func ProgramLockKey(programID string) string {
	return fmt.Sprintf("program:lock:%s", programID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
