// Package backend defines the remote capabilities a provisioning run depends
// on (the build service, the platform image service and the container
// registry) along with the value types exchanged with them. Implementations
// live in subpackages: awsbackend talks to CodeBuild, SageMaker and STS; fake is a
// scripted in-memory stand-in for tests and local runs.
package backend
