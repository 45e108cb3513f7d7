package models

// Step identifies one stage of the release pipeline.
type Step string

const (
	StepTrigger   Step = "trigger"
	StepProvision Step = "provision"
	StepToolchain Step = "toolchain"
	StepCache     Step = "cache"
	StepBuild     Step = "build"
	StepVerify    Step = "verify"
	StepPublish   Step = "publish"
)

// Steps lists the stages in execution order.
var Steps = []Step{
	StepTrigger,
	StepProvision,
	StepToolchain,
	StepCache,
	StepBuild,
	StepVerify,
	StepPublish,
}
