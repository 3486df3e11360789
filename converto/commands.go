package converto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	commandCourses = "courses"
	commandLessons = "lessons"
	commandSummary = "summary"
	commandSync    = "sync"

	optionCourse = "course"
	optionLesson = "lesson"

	// maxAutocompleteChoices is Discord's cap on autocomplete results
	maxAutocompleteChoices = 25

	// maxThreadNameLength is Discord's cap on channel/thread names
	maxThreadNameLength = 100
)

func (c *Converto) applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        commandCourses,
			Description: "List the courses available in the knowledge base",
		},
		{
			Name:        commandLessons,
			Description: "List the lessons indexed for a course",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         optionCourse,
					Description:  "Course name",
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:        commandSummary,
			Description: "Summarize a lesson and open a discussion thread",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         optionCourse,
					Description:  "Course name",
					Required:     true,
					Autocomplete: true,
				},
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         optionLesson,
					Description:  "Lesson title",
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:        commandSync,
			Description: "Index new Notion pages into the knowledge base",
		},
	}
}

// handleInteraction dispatches slash command and autocomplete interactions.
func (c *Converto) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := c.getLogger(ctx)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		logger = logger.With(
			"command", data.Name,
			"user_id", interactionUser(i).ID,
			"channel_id", i.ChannelID,
		)
		ctx = WithLogger(ctx, logger)
		logger.InfoContext(ctx, "received command")

		if c.paused.Load() {
			c.respondEphemeral(ctx, i, "I'm paused right now. Try again later.")
			return
		}

		switch data.Name {
		case commandCourses:
			c.handleCoursesCommand(ctx, i)
		case commandLessons:
			c.handleLessonsCommand(ctx, i, data)
		case commandSummary:
			c.handleSummaryCommand(ctx, i, data)
		case commandSync:
			c.handleSyncCommand(ctx, i)
		default:
			logger.WarnContext(ctx, "unknown command")
		}
	case discordgo.InteractionApplicationCommandAutocomplete:
		c.handleAutocomplete(ctx, i)
	default:
		//
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

func commandOptions(
	data discordgo.ApplicationCommandInteractionData,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := map[string]*discordgo.ApplicationCommandInteractionDataOption{}
	for _, opt := range data.Options {
		options[opt.Name] = opt
	}
	return options
}

// deferResponse acknowledges an interaction so the real reply can follow as
// a followup message once the (possibly slow) work is done.
func (c *Converto) deferResponse(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	ephemeral bool,
) bool {
	response := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if ephemeral {
		response.Data = &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		}
	}
	if err := c.discord.session.InteractionRespond(i.Interaction, response); err != nil {
		_, logger := c.getLogger(ctx)
		logger.ErrorContext(ctx, "error deferring interaction", tint.Err(err))
		return false
	}
	return true
}

func (c *Converto) followup(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) {
	params := &discordgo.WebhookParams{Content: content}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := c.discord.session.FollowupMessageCreate(
		i.Interaction,
		true,
		params,
	); err != nil {
		_, logger := c.getLogger(ctx)
		logger.ErrorContext(ctx, "error sending followup", tint.Err(err))
	}
}

func (c *Converto) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	err := c.discord.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		_, logger := c.getLogger(ctx)
		logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

func (c *Converto) handleCoursesCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	if !c.deferResponse(ctx, i, false) {
		return
	}

	courses, err := c.store.Courses(ctx)
	if err != nil {
		_, logger := c.getLogger(ctx)
		logger.ErrorContext(ctx, "error listing courses", tint.Err(err))
		c.followup(ctx, i, c.config.Discord.ErrorMessage, false)
		return
	}
	if len(courses) == 0 {
		c.followup(ctx, i, "No courses have been indexed yet.", false)
		return
	}

	var b strings.Builder
	b.WriteString("Available courses:\n")
	for _, course := range courses {
		fmt.Fprintf(&b, "- %s\n", course)
	}
	c.followup(ctx, i, b.String(), false)
}

func (c *Converto) handleLessonsCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) {
	options := commandOptions(data)
	courseOpt, ok := options[optionCourse]
	if !ok {
		c.respondEphemeral(ctx, i, "A course name is required.")
		return
	}
	course := courseOpt.StringValue()

	if !c.deferResponse(ctx, i, false) {
		return
	}

	lessons, err := c.store.Lessons(ctx, course)
	if err != nil {
		_, logger := c.getLogger(ctx)
		logger.ErrorContext(ctx, "error listing lessons", tint.Err(err))
		c.followup(ctx, i, c.config.Discord.ErrorMessage, false)
		return
	}
	if len(lessons) == 0 {
		c.followup(
			ctx,
			i,
			fmt.Sprintf("No lessons found for course '%s'.", course),
			false,
		)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Lessons in %s:\n", course)
	for _, lesson := range lessons {
		fmt.Fprintf(&b, "- %s\n", lesson)
	}
	c.followup(ctx, i, b.String(), false)
}

// handleSummaryCommand summarizes a lesson and opens a discussion thread
// where follow-up questions are answered with the lesson as context.
func (c *Converto) handleSummaryCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) {
	ctx, logger := c.getLogger(ctx)
	user := interactionUser(i)

	options := commandOptions(data)
	courseOpt, okCourse := options[optionCourse]
	lessonOpt, okLesson := options[optionLesson]
	if !okCourse || !okLesson {
		c.respondEphemeral(ctx, i, "Both a course and a lesson are required.")
		return
	}
	course := courseOpt.StringValue()
	lesson := lessonOpt.StringValue()

	// Summaries hit the completion model, so they count against the same
	// per-user limit as regular queries.
	if !c.rateLimiter.Allow(user.ID) {
		c.recordQuery(
			ctx, &QueryRecord{
				UserID:    user.ID,
				ChannelID: i.ChannelID,
				Source:    QuerySourceSummary,
				Question:  fmt.Sprintf("%s / %s", course, lesson),
				State:     QueryStateRateLimited,
			},
		)
		c.respondEphemeral(ctx, i, c.rateLimitMessage())
		return
	}

	if !c.deferResponse(ctx, i, false) {
		return
	}

	content, err := c.store.LessonContent(ctx, course, lesson)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.followup(
			ctx,
			i,
			fmt.Sprintf("Lesson '%s' not found in course '%s'.", lesson, course),
			false,
		)
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "error loading lesson content", tint.Err(err))
		c.followup(ctx, i, c.config.Discord.ErrorMessage, false)
		return
	}

	record := &QueryRecord{
		UserID:    user.ID,
		ChannelID: i.ChannelID,
		Source:    QuerySourceSummary,
		Question:  fmt.Sprintf("%s / %s", course, lesson),
	}
	started := time.Now()

	summary, err := c.pipeline.Answer(ctx, lessonSummaryPrompt, content)
	record.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		logger.ErrorContext(ctx, "error generating summary", tint.Err(err))
		record.State = QueryStateFailed
		record.Error = err.Error()
		c.recordQuery(ctx, record)
		c.followup(ctx, i, c.config.Discord.ErrorMessage, false)
		return
	}
	record.State = QueryStateCompleted
	record.Answer = summary
	c.recordQuery(ctx, record)

	thread, err := c.discord.session.ThreadStart(
		i.ChannelID,
		threadName(lesson),
		discordgo.ChannelTypeGuildPublicThread,
		DefaultThreadArchiveDuration,
	)
	if err != nil {
		// No thread, but the summary still gets delivered.
		logger.ErrorContext(ctx, "error creating thread", tint.Err(err))
		c.followup(ctx, i, summary, false)
		return
	}

	c.threads.track(thread.ID, course, lesson, content)
	c.threads.appendHistory(thread.ID, threadRoleAssistant, summary)

	if err = c.discord.sendLongMessage(thread.ID, summary); err != nil {
		logger.ErrorContext(ctx, "error sending summary to thread", tint.Err(err))
		c.followup(ctx, i, c.config.Discord.ErrorMessage, false)
		return
	}
	c.followup(
		ctx,
		i,
		fmt.Sprintf(
			"Summary of '%s' posted in <#%s>. Ask follow-up questions there!",
			lesson,
			thread.ID,
		),
		false,
	)
}

func (c *Converto) handleSyncCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := c.getLogger(ctx)

	if !c.deferResponse(ctx, i, true) {
		return
	}

	report, err := c.Index(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "sync failed", tint.Err(err))
		c.followup(ctx, i, "Sync failed. Check the logs for details.", true)
		return
	}
	c.followup(ctx, i, "Sync complete: "+report.String(), true)
}

// handleAutocomplete serves course and lesson name suggestions while the
// user is still typing a command.
func (c *Converto) handleAutocomplete(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := c.getLogger(ctx)
	data := i.ApplicationCommandData()

	var focused *discordgo.ApplicationCommandInteractionDataOption
	for _, opt := range data.Options {
		if opt.Focused {
			focused = opt
			break
		}
	}
	if focused == nil {
		return
	}

	var candidates []string
	var err error
	switch focused.Name {
	case optionCourse:
		candidates, err = c.store.Courses(ctx)
	case optionLesson:
		course := ""
		if courseOpt, ok := commandOptions(data)[optionCourse]; ok {
			course = courseOpt.StringValue()
		}
		candidates, err = c.store.Lessons(ctx, course)
	default:
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "error loading autocomplete choices", tint.Err(err))
		return
	}

	choices := autocompleteChoices(candidates, focused.StringValue())
	respondErr := c.discord.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
	)
	if respondErr != nil {
		logger.ErrorContext(ctx, "error sending autocomplete choices", tint.Err(respondErr))
	}
}

// autocompleteChoices filters candidates by the partial input (substring,
// case-insensitive) and converts them into Discord choice objects, capped at
// Discord's limit.
func autocompleteChoices(
	candidates []string,
	partial string,
) []*discordgo.ApplicationCommandOptionChoice {
	partial = strings.ToLower(strings.TrimSpace(partial))

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(candidates))
	for _, candidate := range candidates {
		if partial != "" && !strings.Contains(strings.ToLower(candidate), partial) {
			continue
		}
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  candidate,
				Value: candidate,
			},
		)
		if len(choices) == maxAutocompleteChoices {
			break
		}
	}
	return choices
}

func threadName(lesson string) string {
	name := "Summary: " + lesson
	runes := []rune(name)
	if len(runes) > maxThreadNameLength {
		name = string(runes[:maxThreadNameLength])
	}
	return name
}
