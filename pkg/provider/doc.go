/*
Package provider abstracts the cloud container service that runs worker
containers.

The Provider interface is a minimal capability contract: create a container
group, observe its status, delete it, and best-effort fetch its logs. The
ECS implementation targets Fargate; the Fake implementation advances a
scripted state machine deterministically and backs the lifecycle tests.
*/
package provider
