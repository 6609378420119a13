package matchmaking

// Profile is a row of the users table.
type Profile struct {
	ID                          string   `json:"id,omitempty"`
	LinkedinURL                 string   `json:"linkedin_url,omitempty"`
	ImageURL                    string   `json:"image_url,omitempty"`
	Name                        string   `json:"name,omitempty"`
	CompanyName                 string   `json:"company_name,omitempty"`
	CompanyWebsite              string   `json:"company_website,omitempty"`
	CompanyLinkedin             string   `json:"company_linkedin,omitempty"`
	JobTitle                    string   `json:"job_title,omitempty"`
	CurrentTitle                string   `json:"current_title,omitempty"`
	MainEmail                   string   `json:"main_email,omitempty"`
	SecondaryEmail              string   `json:"secondary_email,omitempty"`
	PhoneNumber                 string   `json:"phone_number,omitempty"`
	Location                    string   `json:"location,omitempty"`
	Industry                    string   `json:"industry,omitempty"`
	AreasOfExpertise            []string `json:"areas_of_expertise,omitempty"`
	Skills                      []string `json:"skills,omitempty"`
	KeyProjects                 []string `json:"key_projects,omitempty"`
	AITechnologiesUsed          []string `json:"ai_technologies_used,omitempty"`
	BusinessGoals               []string `json:"business_goals,omitempty"`
	ChallengesFaced             []string `json:"challenges_faced,omitempty"`
	Interests                   []string `json:"interests,omitempty"`
	NetworkingNotes             string   `json:"networking_notes,omitempty"`
	PartnershipPotential        string   `json:"partnership_potential,omitempty"`
	AAAAdvice                   string   `json:"aaa_advice,omitempty"`
	FollowUpActions             string   `json:"follow_up_actions,omitempty"`
	JobHistory                  []string `json:"job_history,omitempty"`
	Education                   []string `json:"education,omitempty"`
	AISolutionOfferings         string   `json:"ai_solution_offerings,omitempty"`
	TargetMarket                string   `json:"target_market,omitempty"`
	RevenueModel                string   `json:"revenue_model,omitempty"`
	TeamSize                    string   `json:"team_size,omitempty"`
	FundingStatus               string   `json:"funding_status,omitempty"`
	TechStack                   []string `json:"tech_stack,omitempty"`
	DataPrivacyApproach         string   `json:"data_privacy_approach,omitempty"`
	ScalabilityStrategy         string   `json:"scalability_strategy,omitempty"`
	CompetitiveAdvantage        string   `json:"competitive_advantage,omitempty"`
	PotentialCollaborationAreas []string `json:"potential_collaboration_areas,omitempty"`
	NextMilestones              string   `json:"next_milestones,omitempty"`
	PersonalMotivation          string   `json:"personal_motivation,omitempty"`
	NetworkingPreferences       string   `json:"networking_preferences,omitempty"`
	ContentCreation             string   `json:"content_creation,omitempty"`
	CommunityInvolvement        string   `json:"community_involvement,omitempty"`
	MentoringInterests          string   `json:"mentoring_interests,omitempty"`
	SkillsToAcquire             []string `json:"skills_to_acquire,omitempty"`
	ResourcesNeeded             string   `json:"resources_needed,omitempty"`
	SuccessMetrics              string   `json:"success_metrics,omitempty"`
	LongTermVision              string   `json:"long_term_vision,omitempty"`
	BestPractices               string   `json:"best_practices,omitempty"`
	CareerStage                 string   `json:"career_stage,omitempty"`
	PreferredCommunication      string   `json:"preferred_communication,omitempty"`
}

// Match is a pre-computed pairing of UserID with MatchedUserID.
type Match struct {
	ID                         string   `json:"id,omitempty"`
	UserID                     string   `json:"user_id,omitempty"`
	MatchedUserID              string   `json:"matched_user_id,omitempty"`
	MatchingScore              float64  `json:"matching_score"`
	Explanation                string   `json:"explanation,omitempty"`
	ComplementarySkills        []string `json:"complementary_skills,omitempty"`
	PotentialCollaboration     string   `json:"potential_collaboration,omitempty"`
	SharedInterests            []string `json:"shared_interests,omitempty"`
	GeographicalSynergy        string   `json:"geographical_synergy,omitempty"`
	ExperienceLevel            string   `json:"experience_level,omitempty"`
	CommunicationCompatibility string   `json:"communication_compatibility,omitempty"`
}

// MatchWithProfile is a match joined with the profile it points at.
// MatchedProfile is nil when the profile is missing or could not be loaded.
type MatchWithProfile struct {
	Match
	MatchedProfile *Profile `json:"matched_user"`
}

// Dashboard is everything the dashboard page shows for one user.
type Dashboard struct {
	Profile Profile            `json:"profile"`
	Matches []MatchWithProfile `json:"matches"`
}
