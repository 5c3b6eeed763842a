package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/rollcall-io/rollcall/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	groupsHandler := handlers.NewGroupsHandler(s.deps.Groups, s.deps.Members, s.logger)
	membersHandler := handlers.NewMembersHandler(
		s.deps.Members, s.deps.Tasks, s.deps.Submissions,
		s.deps.Detector, s.deps.Enrollments, s.deps.Index, s.logger)
	tasksHandler := handlers.NewTasksHandler(
		s.deps.Publisher, s.deps.Reconciler,
		s.deps.Tasks, s.deps.Records, s.deps.Submissions,
		&s.config.Matching, s.logger)
	identifyHandler := handlers.NewIdentifyHandler(
		s.deps.Index, s.deps.Detector, &s.config.Matching, s.logger)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Groups
		r.Post("/groups", groupsHandler.Create)
		r.Get("/groups", groupsHandler.List)
		r.Get("/groups/{groupID}", groupsHandler.Get)
		r.Get("/groups/{groupID}/members", groupsHandler.Members)
		r.Post("/groups/{groupID}/members", groupsHandler.AddMember)

		// Members
		r.Post("/members", membersHandler.Create)
		r.Get("/members", membersHandler.Search)
		r.Get("/members/{memberID}", membersHandler.Get)
		r.Patch("/members/{memberID}", membersHandler.Update)
		r.Post("/members/{memberID}/face", membersHandler.EnrollFace)
		r.Get("/members/{memberID}/tasks/open", membersHandler.OpenTasks)
		r.Get("/members/{memberID}/appearances", membersHandler.Appearances)

		// Sign-in tasks
		r.Post("/tasks", tasksHandler.Publish)
		r.Get("/tasks/{taskID}", tasksHandler.Get)
		r.Post("/tasks/{taskID}/close", tasksHandler.Close)
		r.Get("/tasks/{taskID}/records", tasksHandler.Records)
		r.Put("/tasks/{taskID}/records/{memberID}", tasksHandler.Override)
		r.Post("/tasks/{taskID}/submissions", tasksHandler.SubmitPhoto)
		r.Get("/tasks/{taskID}/submissions", tasksHandler.ListSubmissions)
		r.Get("/submissions/{submissionID}/faces", tasksHandler.SubmissionFaces)

		// Identification (no attendance side effects)
		r.Post("/identify", identifyHandler.Identify)
	})
}
