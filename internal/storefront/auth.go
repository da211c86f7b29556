package storefront

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance"
)

// AuthStages ramps to 60 users over 90s and back down.
var AuthStages = []performance.Stage{
	{Duration: 30 * time.Second, Target: 30},
	{Duration: time.Minute, Target: 60},
	{Duration: 30 * time.Second, Target: 0},
}

const authPassword = "password123"

// Auth builds the authentication plan. Every iteration registers a fresh
// user, logs in, reads the profile and checks that a wrong password is
// rejected.
func Auth(opts Options) (*performance.Plan, error) {
	thresholds := map[string][]string{
		"http_req_duration": {"p(95)<400"},
		"errors":            {"rate<0.1"},
	}
	return newPlan("auth", opts, AuthStages, thresholds, AuthScenario(opts))
}

// AuthScenario is the register, login, profile, invalid login flow.
func AuthScenario(opts Options) performance.Scenario {
	return performance.Scenario{
		Name:   "Auth",
		Weight: 1,
		Steps: []performance.Step{
			{
				Name:  "Register",
				Pause: opts.pause(time.Second),
				Run: func(it *performance.Iteration) error {
					email := uniqueEmail("loadtest", it)
					it.Set("email", email)

					res := it.Post("Register", "/api/users/register", map[string]string{
						"email":     email,
						"password":  authPassword,
						"firstName": "Load",
						"lastName":  "Test",
					})
					it.CheckAll(res,
						performance.Check{Name: "registration status 200", Predicate: performance.StatusIs(200)},
						performance.Check{Name: "token received on registration", Predicate: performance.JSONHas("token")},
						performance.Check{Name: "user id received", Predicate: performance.JSONHas("userId")},
					)
					return nil
				},
			},
			{
				Name:  "Login",
				Pause: opts.pause(500 * time.Millisecond),
				Run: func(it *performance.Iteration) error {
					res := it.Post("Login", "/api/users/login", map[string]string{
						"email":    it.GetString("email"),
						"password": authPassword,
					})
					it.CheckAll(res,
						performance.Check{Name: "login status 200", Predicate: performance.StatusIs(200)},
						performance.Check{Name: "token received on login", Predicate: performance.JSONHas("token")},
					)
					if res.Status != 200 {
						return it.Abort(fmt.Sprintf("login failed: %d", res.Status))
					}
					token, _ := res.String("token")
					it.Set("token", token)
					return nil
				},
			},
			{
				Name:  "Profile",
				Pause: opts.pause(time.Second),
				Run: func(it *performance.Iteration) error {
					req := performance.NewRequest("Profile", "GET", "/api/users/profile").WithBearer(it.GetString("token"))
					it.CheckAll(it.Request(req),
						performance.Check{Name: "profile status 200", Predicate: performance.StatusIs(200)},
						performance.Check{Name: "profile has email", Predicate: performance.JSONEquals("email", it.GetString("email"))},
						performance.Check{Name: "profile has first name", Predicate: performance.JSONHas("firstName")},
					)
					return nil
				},
			},
			{
				Name:  "InvalidLogin",
				Pause: opts.pause(time.Second),
				Run: func(it *performance.Iteration) error {
					res := it.Post("InvalidLogin", "/api/users/login", map[string]string{
						"email":    it.GetString("email"),
						"password": "wrongpassword",
					})
					it.Check(res, "invalid login rejected", performance.StatusIs(401, 400))
					return nil
				},
			},
		},
	}
}
