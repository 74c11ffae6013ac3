package server

import (
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/paging"
)

type CreateTaskRequest struct {
	Description string `json:"description" example:"Ship the release notes"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"new,in_progress,done"`
}

type AddCommentRequest struct {
	Text string `json:"text" example:"Blocked on review"`
}

type SetRoleRequest struct {
	Role string `json:"role" enum:"user,manager,admin"`
}

type TaskResponse struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status" enum:"new,in_progress,done"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type CommentResponse struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskCardResponse struct {
	Task         TaskResponse      `json:"task"`
	Comments     []CommentResponse `json:"comments"`
	CommentCount int               `json:"comment_count"`
}

type UserResponse struct {
	Identity  string `json:"identity"`
	Role      string `json:"role" enum:"user,manager,admin"`
	Root      bool   `json:"root"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskPageResponse struct {
	Items      []TaskResponse `json:"items"`
	Number     int            `json:"number"`
	TotalPages int            `json:"total_pages"`
	TotalItems int            `json:"total_items"`
	Size       int            `json:"size"`
	HasPrev    bool           `json:"has_prev"`
	HasNext    bool           `json:"has_next"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	res := []TaskResponse{}
	for _, t := range tasks {
		res = append(res, taskResponse(t))
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		TaskID:    c.TaskID,
		Author:    c.Author,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

func mapComments(comments []domain.Comment) []CommentResponse {
	res := []CommentResponse{}
	for _, c := range comments {
		res = append(res, commentResponse(c))
	}
	return res
}

func cardResponse(card engine.TaskCard) TaskCardResponse {
	return TaskCardResponse{
		Task:         taskResponse(card.Task),
		Comments:     mapComments(card.Comments),
		CommentCount: card.CommentCount,
	}
}

func userResponse(u domain.User, rootAdmin string) UserResponse {
	return UserResponse{
		Identity:  u.Identity,
		Role:      string(u.Role),
		Root:      u.Identity == rootAdmin,
		CreatedAt: u.CreatedAt,
	}
}

func pageResponse(p paging.Page) TaskPageResponse {
	return TaskPageResponse{
		Items:      mapTasks(p.Items),
		Number:     p.Number,
		TotalPages: p.TotalPages,
		TotalItems: p.TotalItems,
		Size:       p.Size,
		HasPrev:    p.HasPrev,
		HasNext:    p.HasNext,
	}
}
